package anomaly

import (
	"sort"
	"strings"

	"netrisk/pkg/models"
)

// Classification is the severity and category attached to a defect id.
type Classification struct {
	Severity models.Severity `json:"severity" yaml:"severity"`
	Category models.Category `json:"category" yaml:"category"`
}

var unknownClassification = Classification{Severity: models.SeverityUnknown, Category: models.CategoryUnknown}

var builtinTaxonomy = map[string]Classification{
	models.DefectMalformedTimestamp: {models.SeverityHigh, models.CategoryBug},
	models.DefectCorruptLine:        {models.SeverityHigh, models.CategoryBug},
	models.DefectNonNumericPort:     {models.SeverityMedium, models.CategoryBug},
	models.DefectMissingField:       {models.SeverityLow, models.CategoryBug},
	models.DefectNegativeBytes:      {models.SeverityMedium, models.CategoryBug},
	models.DefectInvalidIP:          {models.SeverityHigh, models.CategoryBug},
	models.DefectDuplicateField:     {models.SeverityLow, models.CategoryBug},
	models.DefectPortScan:           {models.SeverityMedium, models.CategoryAttack},
	models.DefectBruteForce:         {models.SeverityHigh, models.CategoryAttack},
	models.DefectXSS:                {models.SeverityMedium, models.CategoryAttack},
	models.DefectMalwareDownload:    {models.SeverityHigh, models.CategoryAttack},
	models.DefectDDoS:               {models.SeverityHigh, models.CategoryAttack},
	models.DefectSQLInjection:       {models.SeverityHigh, models.CategoryAttack},
}

// Taxonomy maps defect ids to classifications. It is immutable; With returns
// an extended copy.
type Taxonomy struct {
	entries map[string]Classification
}

// DefaultTaxonomy returns the built-in classification table.
func DefaultTaxonomy() *Taxonomy {
	entries := make(map[string]Classification, len(builtinTaxonomy))
	for id, c := range builtinTaxonomy {
		entries[id] = c
	}
	return &Taxonomy{entries: entries}
}

// Classify returns the classification for id, or Unknown/Unknown.
func (t *Taxonomy) Classify(id string) Classification {
	if t == nil {
		return Classify(id)
	}
	if c, ok := t.entries[id]; ok {
		return c
	}
	return unknownClassification
}

// With returns a copy of t with id registered.
func (t *Taxonomy) With(id string, c Classification) *Taxonomy {
	next := DefaultTaxonomy()
	if t != nil {
		next.entries = make(map[string]Classification, len(t.entries)+1)
		for k, v := range t.entries {
			next.entries[k] = v
		}
	}
	next.entries[id] = c
	return next
}

// IDs returns the registered defect ids in sorted order.
func (t *Taxonomy) IDs() []string {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Classify looks id up in the built-in table.
func Classify(id string) Classification {
	if c, ok := builtinTaxonomy[id]; ok {
		return c
	}
	return unknownClassification
}

// SeverityFromLevel maps a rule level string onto a finding severity.
func SeverityFromLevel(level string) models.Severity {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "informational", "low":
		return models.SeverityLow
	case "", "medium":
		return models.SeverityMedium
	case "high", "critical":
		return models.SeverityHigh
	default:
		return models.SeverityUnknown
	}
}

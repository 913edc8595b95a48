package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"netrisk/pkg/models"
)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles        int
	Loaded            int
	SkippedComplex    int
	SkippedDatasource int
	SkippedInvalid    int
}

type compiledSigmaRule struct {
	eval  *sigmaevaluator.RuleEvaluator
	label Match
}

// SigmaEngine evaluates Sigma rules against individual firewall log rows.
type SigmaEngine struct {
	rules []compiledSigmaRule
	ctx   context.Context
}

// NewSigmaEngine loads Sigma rules from a file or directory and compiles evaluators.
// Rules for other log sources or with aggregations are skipped and counted in stats.
func NewSigmaEngine(path string) (*SigmaEngine, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !entry.IsDir() && isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		rule, err := parseSigmaRuleFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if !isFirewallSource(rule) {
			stats.SkippedDatasource++
			continue
		}
		if !isSingleRowRule(rule) {
			stats.SkippedComplex++
			continue
		}

		compiled = append(compiled, compiledSigmaRule{
			eval:  sigmaevaluator.ForRule(rule),
			label: matchFromRule(rule),
		})
		stats.Loaded++
	}

	return &SigmaEngine{rules: compiled, ctx: context.Background()}, stats, nil
}

// Apply evaluates all loaded rules and returns the ones that matched.
func (e *SigmaEngine) Apply(record *models.LogRecord) []Match {
	if e == nil || record == nil || len(e.rules) == 0 {
		return nil
	}

	event := sigmaEventFrom(record)
	var out []Match
	for _, rule := range e.rules {
		res, err := rule.eval.Matches(e.ctx, event)
		if err != nil {
			continue
		}
		if res.Match {
			out = append(out, rule.label)
		}
	}
	return out
}

// Labels returns the identity of every loaded rule.
func (e *SigmaEngine) Labels() []Match {
	if e == nil {
		return nil
	}
	out := make([]Match, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule.label)
	}
	return out
}

func parseSigmaRuleFile(path string) (sigma.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("parse sigma rule %s: %w", path, err)
	}
	return rule, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isFirewallSource(rule sigma.Rule) bool {
	product := strings.ToLower(strings.TrimSpace(rule.Logsource.Product))
	category := strings.ToLower(strings.TrimSpace(rule.Logsource.Category))

	if product != "" && product != "firewall" {
		return false
	}
	if category != "" && category != "firewall" {
		return false
	}
	return true
}

func isSingleRowRule(rule sigma.Rule) bool {
	if rule.Detection.Timeframe > 0 {
		return false
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 || len(search.EventMatchers) == 0 {
			return false
		}
	}
	return true
}

func sigmaEventFrom(record *models.LogRecord) map[string]interface{} {
	buf := make(map[string]interface{}, len(models.LogFields)+len(record.Extra))
	for k, v := range record.Extra {
		buf[k] = v
	}
	for _, name := range models.LogFields {
		if v := record.Field(name); v != "" {
			buf[name] = v
		}
	}
	return buf
}

func matchFromRule(rule sigma.Rule) Match {
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = strings.TrimSpace(rule.Title)
	}

	level := strings.ToLower(strings.TrimSpace(rule.Level))
	if level == "" {
		level = "medium"
	}

	return Match{
		ID:       id,
		Name:     strings.TrimSpace(rule.Title),
		Severity: level,
	}
}

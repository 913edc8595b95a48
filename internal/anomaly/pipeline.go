package anomaly

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"netrisk/internal/logger"
	"netrisk/internal/metrics"
	"netrisk/internal/rules"
	"netrisk/pkg/models"
)

// Config configures the anomaly pipeline.
type Config struct {
	// InvalidIP is the sentinel address flagged as invalid_ip.
	InvalidIP string
	// Rules adds operator threat rules on top of the built-in detectors.
	Rules rules.Engine
	// Workers bounds concurrent detectors; zero runs all at once.
	Workers int
	Metrics *metrics.Metrics
}

// Pipeline runs every detector over a batch and returns classified findings.
type Pipeline struct {
	detectors []Detector
	taxonomy  *Taxonomy
	workers   int
	metrics   *metrics.Metrics
}

// NewPipeline builds a pipeline with the built-in detectors.
func NewPipeline(cfg Config) *Pipeline {
	detectors := DefaultDetectors(cfg.InvalidIP)
	taxonomy := DefaultTaxonomy()
	if cfg.Rules != nil {
		detectors = append(detectors, RuleDetector{Engine: cfg.Rules})
		taxonomy = taxonomy.WithRules(cfg.Rules)
	}
	return &Pipeline{
		detectors: detectors,
		taxonomy:  taxonomy,
		workers:   cfg.Workers,
		metrics:   cfg.Metrics,
	}
}

// Detectors returns the detector names in execution order.
func (p *Pipeline) Detectors() []string {
	names := make([]string, 0, len(p.detectors))
	for _, d := range p.detectors {
		names = append(names, d.Name())
	}
	return names
}

// Run executes the detectors, removes duplicate findings, classifies them and
// sorts them by time. Findings without a resolved timestamp come first; ties
// keep detector order. The result is never nil.
func (p *Pipeline) Run(ctx context.Context, batch []models.LogRecord) ([]models.AnomalyFinding, error) {
	return p.RunAfter(ctx, nil, batch)
}

// RunAfter is Run for a batch cut from a longer stream. prior holds earlier
// rows that detectors may consult by Index; only batch rows are reported.
func (p *Pipeline) RunAfter(ctx context.Context, prior, batch []models.LogRecord) ([]models.AnomalyFinding, error) {
	start := time.Now()

	perDetector := make([][]models.AnomalyFinding, len(p.detectors))
	g, _ := errgroup.WithContext(ctx)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, d := range p.detectors {
		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if pd, ok := d.(PriorDetector); ok {
				perDetector[i] = pd.DetectAfter(prior, batch)
				return nil
			}
			perDetector[i] = d.Detect(batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.AnomalyFinding, 0)
	seen := make(map[string]struct{})
	for _, findings := range perDetector {
		for _, f := range findings {
			key := f.DedupeKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			c := p.taxonomy.Classify(f.DefectID)
			f.Severity = c.Severity
			f.Category = c.Category
			out = append(out, f)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Timestamp, out[j].Timestamp
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})

	p.metrics.ObserveRun(len(batch), out, time.Since(start))
	logger.Debugf("Anomaly pipeline: rows=%d findings=%d took=%s", len(batch), len(out), time.Since(start))
	return out, nil
}

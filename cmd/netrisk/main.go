package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"netrisk/config"
	"netrisk/internal/anomaly"
	"netrisk/internal/features"
	"netrisk/internal/logger"
	"netrisk/internal/metrics"
	"netrisk/internal/modelstore"
	"netrisk/internal/output/findingsclickhouse"
	"netrisk/internal/output/jsonl"
	"netrisk/internal/output/riskhttp"
	"netrisk/internal/pipeline"
	"netrisk/internal/risk"
	"netrisk/internal/rules"
	"netrisk/internal/transform/firewall"
	"netrisk/internal/transform/telemetry"
	"netrisk/pkg/models"
)

const defaultConfigFile = "netrisk.yml"

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), defaultConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadConfig reads the config file when one can be found and falls back to
// defaults otherwise. Logging is initialized from the result.
func loadConfig(configArg string) (*config.Config, string, error) {
	cfg := config.Default()
	path := findConfigFile(configArg)
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, "", fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	}

	l := cfg.NetRisk.Logging
	if err := logger.Init(logger.Config{
		Enabled:    l.Enabled,
		Level:      l.Level,
		File:       l.File,
		Console:    l.Console,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}); err != nil {
		return nil, "", fmt.Errorf("init logger: %w", err)
	}
	return cfg, path, nil
}

func newDetector(cfg *config.Config, m *metrics.Metrics) (*anomaly.Pipeline, error) {
	a := cfg.NetRisk.Anomaly
	var engine rules.Engine
	if a.Rules.Enabled {
		if strings.TrimSpace(a.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; Sigma threat rules disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(a.Rules.Path)
			if err != nil {
				return nil, fmt.Errorf("load Sigma rules from %s: %w", a.Rules.Path, err)
			}
			engine = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
				stats.Loaded,
				stats.SkippedComplex,
				stats.SkippedDatasource,
				stats.SkippedInvalid,
				stats.TotalFiles,
			)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; rule findings are effectively disabled")
			}
		}
	}

	return anomaly.NewPipeline(anomaly.Config{
		InvalidIP: a.InvalidIPSentinel,
		Rules:     engine,
		Workers:   a.Workers,
		Metrics:   m,
	}), nil
}

func newFindingWriter(cfg *config.Config, outputArg string) (pipeline.FindingWriter, error) {
	out := cfg.NetRisk.Output.Findings
	if outputArg != "" {
		return jsonl.NewWriter[models.AnomalyFinding](outputArg)
	}
	switch out.Mode {
	case "file":
		logger.Infof("Findings output mode: file (%s)", out.File.Path)
		return jsonl.NewWriter[models.AnomalyFinding](out.File.Path)
	case "clickhouse":
		logger.Infof("Findings output mode: clickhouse (%s/%s.%s)", out.ClickHouse.URL, out.ClickHouse.Database, out.ClickHouse.Table)
		return findingsclickhouse.NewWriter(findingsclickhouse.Config{
			URL:      out.ClickHouse.URL,
			Database: out.ClickHouse.Database,
			Table:    out.ClickHouse.Table,
			Username: out.ClickHouse.Username,
			Password: out.ClickHouse.Password,
			Timeout:  out.ClickHouse.Timeout,
			Headers:  out.ClickHouse.Headers,
		})
	default:
		return nil, fmt.Errorf("unknown findings output mode: %s", out.Mode)
	}
}

func newAssessmentWriter(cfg *config.Config, outputArg string) (pipeline.AssessmentWriter, error) {
	out := cfg.NetRisk.Output.Risk
	if outputArg != "" {
		return jsonl.NewWriter[models.RiskAssessment](outputArg)
	}
	switch out.Mode {
	case "file":
		logger.Infof("Risk output mode: file (%s)", out.File.Path)
		return jsonl.NewWriter[models.RiskAssessment](out.File.Path)
	case "http":
		logger.Infof("Risk output mode: http (%s)", out.HTTP.URL)
		return riskhttp.NewWriter(riskhttp.Config{
			URL:      out.HTTP.URL,
			Timeout:  out.HTTP.Timeout,
			Headers:  out.HTTP.Headers,
			MaxBatch: out.HTTP.MaxBatch,
		})
	default:
		return nil, fmt.Errorf("unknown risk output mode: %s", out.Mode)
	}
}

func newManager(cfg *config.Config, m *metrics.Metrics) (*risk.Manager, modelstore.Store, error) {
	mc := cfg.NetRisk.Model
	store, err := modelstore.Open(modelstore.Config{
		Mode: mc.Store.Mode,
		Dir:  mc.Store.Dir,
		Redis: modelstore.RedisConfig{
			Addr:      mc.Store.Redis.Addr,
			Password:  mc.Store.Redis.Password,
			DB:        mc.Store.Redis.DB,
			KeyPrefix: mc.Store.Redis.KeyPrefix,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open model store: %w", err)
	}

	stat := risk.DefaultStatisticalConfig()
	stat.Seed = mc.Seed
	stat.Trees = mc.Trees
	stat.SampleSize = mc.SampleSize
	stat.PseudoLabelPercentile = mc.PseudoLabelPercentile
	stat.TopN = mc.TopN

	mgr := risk.NewManager(risk.ManagerConfig{
		Store: store,
		Thresholds: risk.Thresholds{
			CPU:          mc.Thresholds.CPU,
			Mem:          mc.Thresholds.Mem,
			IfUtil:       mc.Thresholds.IfUtil,
			PktErr:       mc.Thresholds.PktErr,
			LatencyMS:    mc.Thresholds.LatencyMS,
			TrendWindows: mc.Thresholds.TrendWindows,
			TrendChange:  mc.Thresholds.TrendChange,
		},
		Statistical: stat,
		Metrics:     m,
	})
	return mgr, store, nil
}

func runDetect(args []string) int {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	input := fs.String("input", "", "Firewall log input path (.jsonl, .json or .csv)")
	output := fs.String("output", "", "Findings JSONL output path, - for stdout (default: config output)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "detect: -input is required")
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()

	records, err := firewall.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read logs: %v\n", err)
		return 1
	}
	detector, err := newDetector(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	findings, err := detector.Run(context.Background(), records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "detection failed: %v\n", err)
		return 1
	}

	w, err := newFindingWriter(cfg, *output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create findings writer: %v\n", err)
		return 1
	}
	if err := w.Write(findings); err != nil {
		_ = w.Close()
		fmt.Fprintf(os.Stderr, "failed to write findings: %v\n", err)
		return 1
	}
	if err := w.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close findings writer: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "detected rows=%d findings=%d\n", len(records), len(findings))
	return 0
}

func runFeatures(args []string) int {
	fs := flag.NewFlagSet("features", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	input := fs.String("input", "", "Telemetry input path (.jsonl, .json or .csv)")
	output := fs.String("output", "output/features.jsonl", "Feature vector JSONL output path, - for stdout")
	windowsArg := fs.String("windows", "", "Comma-separated window lengths in minutes (default: config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "features: -input is required")
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()

	windows := cfg.NetRisk.Features.Windows
	if strings.TrimSpace(*windowsArg) != "" {
		windows, err = parseWindows(*windowsArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "features: %v\n", err)
			return 2
		}
	}

	samples, err := telemetry.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read telemetry: %v\n", err)
		return 1
	}
	agg := features.NewAggregator(cfg.NetRisk.Features.Workers, nil)
	vectors, err := agg.Compute(context.Background(), samples, windows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feature aggregation failed: %v\n", err)
		return 1
	}

	if err := writeAll(*output, vectors); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write features: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "aggregated samples=%d vectors=%d columns=%d\n", len(samples), len(vectors), len(features.Columns(vectors)))
	return 0
}

func runTrain(args []string) int {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	input := fs.String("input", "", "Feature vector JSONL input path")
	labelsArg := fs.String("labels", "", "Optional labels file, one 0/1 label per row (CSV, last column)")
	testSize := fs.Float64("test-size", features.DefaultTestSize, "Fraction held out for evaluation")
	valSize := fs.Float64("val-size", features.DefaultValSize, "Fraction of the remainder held out for validation")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "train: -input is required")
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()

	vectors, err := jsonl.ReadFile[models.FeatureVector](*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read features: %v\n", err)
		return 1
	}
	var labels []int
	if *labelsArg != "" {
		labels, err = readLabels(*labelsArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read labels: %v\n", err)
			return 1
		}
		if len(labels) != len(vectors) {
			fmt.Fprintf(os.Stderr, "labels: got %d labels for %d feature rows\n", len(labels), len(vectors))
			return 1
		}
	}

	ctx := context.Background()
	mgr, store, err := newManager(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer store.Close()

	// Labels bind to the full set, so the split only reports sizes when
	// labels were supplied.
	trainSet := vectors
	if labels == nil {
		splits, err := features.Split(vectors, *testSize, *valSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "split failed: %v\n", err)
			return 1
		}
		trainSet = splits.Train
		logger.Infof("Split rows: train=%d val=%d test=%d", len(splits.Train), len(splits.Val), len(splits.Test))
	}

	report, err := mgr.Train(ctx, trainSet, labels)
	if err != nil {
		fmt.Fprintf(os.Stderr, "training failed: %v\n", err)
		return 1
	}
	if err := mgr.Save(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save model: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "trained bundle=%s samples=%d features=%d accuracy=%.3f pseudo_labels=%t\n",
		report.BundleID, report.NumSamples, report.NumFeatures, report.Accuracy, report.PseudoLabels)
	return 0
}

func runPredict(args []string) int {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	mode := fs.String("mode", "", "Model mode: rule or ml (default: config)")
	input := fs.String("input", "", "Feature vector JSONL input path, - for stdin")
	output := fs.String("output", "", "Risk JSONL output path, - for stdout (default: config output)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "predict: -input is required")
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()
	if *mode == "" {
		*mode = cfg.NetRisk.Model.Mode
	}
	if _, err := risk.ParseMode(*mode); err != nil {
		fmt.Fprintf(os.Stderr, "predict: %v\n", err)
		return 2
	}

	vectors, err := jsonl.ReadFile[models.FeatureVector](*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read features: %v\n", err)
		return 1
	}

	mgr, store, err := newManager(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer store.Close()

	assessments, err := mgr.PredictAll(context.Background(), *mode, vectors)
	if err != nil {
		if errors.Is(err, risk.ErrNotTrained) {
			fmt.Fprintln(os.Stderr, "statistical model is not trained; run train first")
		} else {
			fmt.Fprintf(os.Stderr, "prediction failed: %v\n", err)
		}
		return 1
	}

	w, err := newAssessmentWriter(cfg, *output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create risk writer: %v\n", err)
		return 1
	}
	if err := w.Write(assessments); err != nil {
		_ = w.Close()
		fmt.Fprintf(os.Stderr, "failed to write assessments: %v\n", err)
		return 1
	}
	if err := w.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close risk writer: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "scored entities=%d mode=%s\n", len(assessments), *mode)
	return 0
}

func runExplain(args []string) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	mode := fs.String("mode", "", "Model mode: rule or ml (default: config)")
	input := fs.String("input", "", "Feature vector JSONL input path, - for stdin")
	output := fs.String("output", "-", "Explanation JSONL output path, - for stdout")
	importance := fs.Int("importance", 0, "Also print the top N global feature importances (ml mode)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "explain: -input is required")
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()
	if *mode == "" {
		*mode = cfg.NetRisk.Model.Mode
	}

	vectors, err := jsonl.ReadFile[models.FeatureVector](*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read features: %v\n", err)
		return 1
	}
	mgr, store, err := newManager(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	explanations := make([]risk.Explanation, 0, len(vectors))
	for _, v := range vectors {
		e, err := mgr.Explain(ctx, *mode, v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "explain %s failed: %v\n", v.EntityID, err)
			return 1
		}
		explanations = append(explanations, e)
	}
	if err := writeAll(*output, explanations); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write explanations: %v\n", err)
		return 1
	}

	if *importance > 0 {
		model, err := mgr.Model(ctx, *mode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		sm, ok := model.(*risk.StatisticalModel)
		if !ok {
			fmt.Fprintln(os.Stderr, "feature importance needs -mode ml")
			return 2
		}
		ranked, err := risk.FeatureImportances(sm, *importance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "feature importance failed: %v\n", err)
			return 1
		}
		for _, fi := range ranked {
			fmt.Fprintf(os.Stderr, "%-40s %+.4f\n", fi.Feature, fi.Coefficient)
		}
	}
	return 0
}

func runModels(args []string) int {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logger.Sync()

	_, store, err := newManager(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer store.Close()

	artifacts, err := store.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list models: %v\n", err)
		return 1
	}
	for _, a := range artifacts {
		fmt.Printf("%-12s %8d  %s\n", a.Name, a.Size, a.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}

func writeAll[T any](path string, items []T) error {
	w, err := jsonl.NewWriter[T](path)
	if err != nil {
		return err
	}
	if err := w.Write(items); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func parseWindows(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid window %q", v)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no windows given")
	}
	return out, nil
}

// readLabels reads one label per row from the last CSV column. A first row
// that is not a number is treated as a header.
func readLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseLabels(f)
}

func parseLabels(r io.Reader) ([]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var labels []int
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		raw := strings.TrimSpace(fields[len(fields)-1])
		n, err := strconv.Atoi(raw)
		if err != nil {
			if row == 1 {
				continue
			}
			return nil, fmt.Errorf("row %d: invalid label %q", row, raw)
		}
		labels = append(labels, n)
	}
	return labels, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: netrisk <command> [flags]

commands:
  detect    run anomaly detection over a firewall log file
  features  aggregate telemetry into feature vectors
  train     train the statistical risk model
  predict   score feature vectors with the rule or ml model
  explain   print structured explanations for feature vectors
  models    list stored model artifacts
  ingest    stream firewall logs from Redis (default)
`)
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "detect":
			os.Exit(runDetect(os.Args[2:]))
		case "features":
			os.Exit(runFeatures(os.Args[2:]))
		case "train":
			os.Exit(runTrain(os.Args[2:]))
		case "predict":
			os.Exit(runPredict(os.Args[2:]))
		case "explain":
			os.Exit(runExplain(os.Args[2:]))
		case "models":
			os.Exit(runModels(os.Args[2:]))
		case "ingest":
			runIngest(os.Args[2:])
			return
		case "-h", "-help", "--help", "help":
			usage()
			os.Exit(2)
		default:
			// A bare argument is a config path for ingest.
			runIngest(os.Args[1:])
			return
		}
	}

	runIngest(nil)
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"netrisk/internal/anomaly"
	"netrisk/internal/logger"
	"netrisk/internal/transform/firewall"
	"netrisk/pkg/models"
)

// Source yields raw log rows. PopBatch returns nil, nil when nothing arrived
// before its wait expired.
type Source interface {
	PopBatch(ctx context.Context, max int) ([][]byte, error)
	Close() error
}

// Config tunes the streaming runner.
type Config struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	// DedupeCacheSize is how many recent findings are remembered to suppress
	// repeats across batches; zero disables suppression.
	DedupeCacheSize int
	RetryDelay      time.Duration
}

// RedisFindingsPipeline reads raw rows from Redis, groups them into
// micro-batches, runs anomaly detection and writes the findings.
type RedisFindingsPipeline struct {
	source    Source
	detector  *anomaly.Pipeline
	writer    FindingWriter
	rawWriter RawWriter
	seen      *lru.Cache[string, struct{}]
	cfg       Config

	// recent maps the sequence number of recently flushed rows to their raw
	// timestamp so a row can impute from a neighbour in an earlier batch.
	recent *lru.Cache[int, string]
}

type message struct {
	seq  int
	data []byte
}

type parsed struct {
	record models.LogRecord
	raw    []byte
}

// NewRedisFindingsPipeline creates the runner. rawWriter may be nil.
func NewRedisFindingsPipeline(source Source, detector *anomaly.Pipeline, writer FindingWriter, rawWriter RawWriter, cfg Config) (*RedisFindingsPipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	p := &RedisFindingsPipeline{
		source:    source,
		detector:  detector,
		writer:    writer,
		rawWriter: rawWriter,
		cfg:       cfg,
	}
	recent, err := lru.New[int, string](max(2*cfg.BatchSize, 1024))
	if err != nil {
		return nil, fmt.Errorf("create recent rows cache: %w", err)
	}
	p.recent = recent
	if cfg.DedupeCacheSize > 0 {
		cache, err := lru.New[string, struct{}](cfg.DedupeCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create dedupe cache: %w", err)
		}
		p.seen = cache
	}
	return p, nil
}

// Run processes rows until ctx is cancelled, then flushes what it holds.
func (p *RedisFindingsPipeline) Run(ctx context.Context) error {
	logger.Infof("Redis findings pipeline started (workers=%d batch=%d)", p.cfg.Workers, p.cfg.BatchSize)

	msgCh := make(chan message, p.cfg.Workers*4)
	workCh := make(chan parsed, p.cfg.Workers*4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.workerLoop(msgCh, workCh)
		}()
	}
	go func() {
		workers.Wait()
		close(workCh)
	}()

	p.writeLoop(ctx, workCh)
	wg.Wait()
	logger.Infof("Redis findings pipeline stopped")
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *RedisFindingsPipeline) Close() error {
	if p.rawWriter != nil {
		if err := p.rawWriter.Close(); err != nil {
			logger.Errorf("Failed to close raw writer: %v", err)
		}
	}
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			logger.Errorf("Failed to close findings writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *RedisFindingsPipeline) readLoop(ctx context.Context, out chan<- message) {
	seq := 0
	for {
		batch, err := p.source.PopBatch(ctx, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop redis messages: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		for _, data := range batch {
			select {
			case out <- message{seq: seq, data: data}:
				seq++
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *RedisFindingsPipeline) workerLoop(in <-chan message, out chan<- parsed) {
	for msg := range in {
		out <- parsed{record: firewall.ParseLine(msg.data, msg.seq), raw: msg.data}
	}
}

func (p *RedisFindingsPipeline) writeLoop(ctx context.Context, in <-chan parsed) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []parsed
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.flush(ctx, batch)
		batch = nil
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, item)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		}
	}
}

func (p *RedisFindingsPipeline) flush(ctx context.Context, batch []parsed) {
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].record.Index < batch[j].record.Index
	})
	records := make([]models.LogRecord, len(batch))
	raw := make([]json.RawMessage, 0, len(batch))
	inBatch := make(map[int]struct{}, len(batch))
	for i := range batch {
		records[i] = batch[i].record
		inBatch[records[i].Index] = struct{}{}
		if json.Valid(batch[i].raw) {
			raw = append(raw, batch[i].raw)
		}
	}
	prior := p.priorRows(records, inBatch)
	for i := range records {
		p.recent.Add(records[i].Index, records[i].Timestamp)
	}

	// Detection must finish even while shutting down.
	findings, err := p.detector.RunAfter(context.WithoutCancel(ctx), prior, records)
	if err != nil {
		logger.Errorf("Anomaly pipeline failed on %d rows: %v", len(records), err)
		return
	}
	findings = p.suppress(findings)

	if p.rawWriter != nil && len(raw) > 0 {
		p.writeWithRetry(ctx, "raw rows", func() error { return p.rawWriter.Write(raw) })
	}
	if len(findings) > 0 {
		p.writeWithRetry(ctx, "findings", func() error { return p.writer.Write(findings) })
	}
	logger.Debugf("Flushed %d rows, %d new findings", len(records), len(findings))
}

// priorRows returns the already flushed predecessors of rows in records.
func (p *RedisFindingsPipeline) priorRows(records []models.LogRecord, inBatch map[int]struct{}) []models.LogRecord {
	var prior []models.LogRecord
	for i := range records {
		prev := records[i].Index - 1
		if _, ok := inBatch[prev]; ok {
			continue
		}
		if ts, ok := p.recent.Get(prev); ok {
			prior = append(prior, models.LogRecord{Index: prev, Timestamp: ts})
		}
	}
	return prior
}

func (p *RedisFindingsPipeline) suppress(findings []models.AnomalyFinding) []models.AnomalyFinding {
	if p.seen == nil {
		return findings
	}
	out := findings[:0]
	for _, f := range findings {
		key := f.DedupeKey()
		if p.seen.Contains(key) {
			continue
		}
		p.seen.Add(key, struct{}{})
		out = append(out, f)
	}
	return out
}

func (p *RedisFindingsPipeline) writeWithRetry(ctx context.Context, what string, write func() error) {
	for {
		err := write()
		if err == nil {
			return
		}
		logger.Errorf("Failed to write %s: %v", what, err)
		select {
		case <-ctx.Done():
			logger.Warnf("Dropping %s after shutdown", what)
			return
		case <-time.After(p.cfg.RetryDelay):
		}
	}
}

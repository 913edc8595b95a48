package telemetry

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"netrisk/internal/logger"
	"netrisk/internal/transform/timefmt"
	"netrisk/pkg/models"
)

// Identifier columns; every other numeric column is a metric.
const (
	KeyTimestamp = "ts"
	KeyNodeID    = "node_id"
	KeyLinkID    = "link_id"
)

// ErrNoTimestamp is returned for samples without a usable ts.
var ErrNoTimestamp = errors.New("sample has no valid timestamp")

// Parse converts one flat JSON object into a MetricSample. Non-numeric
// values other than the identifiers are ignored.
func Parse(data []byte) (models.MetricSample, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return models.MetricSample{}, err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		}
	}
	if _, ok := fields[KeyTimestamp]; !ok {
		fields[KeyTimestamp], _ = raw["timestamp"].(string)
	}
	return fromFields(fields)
}

func fromFields(fields map[string]string) (models.MetricSample, error) {
	ts, ok := timefmt.Parse(fields[KeyTimestamp])
	if !ok {
		return models.MetricSample{}, fmt.Errorf("%w: %q", ErrNoTimestamp, fields[KeyTimestamp])
	}
	s := models.MetricSample{
		Timestamp: ts,
		NodeID:    strings.TrimSpace(fields[KeyNodeID]),
		LinkID:    strings.TrimSpace(fields[KeyLinkID]),
		Metrics:   make(map[string]float64),
	}
	for k, raw := range fields {
		switch k {
		case KeyTimestamp, KeyNodeID, KeyLinkID, "timestamp":
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) {
			continue
		}
		s.Metrics[k] = v
	}
	return s, nil
}

// ReadJSONL reads one sample per non-blank line, skipping rows that do not
// parse or lack a timestamp.
func ReadJSONL(r io.Reader) ([]models.MetricSample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []models.MetricSample
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		s, err := Parse(data)
		if err != nil {
			logger.Warnf("Skipping telemetry line %d: %v", line, err)
			continue
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read telemetry lines: %w", err)
	}
	return out, nil
}

// ReadCSV reads a headed CSV export with the same skipping rules.
func ReadCSV(r io.Reader) ([]models.MetricSample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var out []models.MetricSample
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read csv row %d: %w", line, err)
		}
		fields := make(map[string]string, len(row))
		for i, v := range row {
			if i < len(header) && strings.TrimSpace(v) != "" {
				fields[header[i]] = v
			}
		}
		s, err := fromFields(fields)
		if err != nil {
			logger.Warnf("Skipping telemetry row %d: %v", line, err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadFile reads a .csv export or a JSON-lines file.
func ReadFile(path string) ([]models.MetricSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	return ReadJSONL(f)
}

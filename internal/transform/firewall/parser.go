package firewall

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"netrisk/internal/logger"
	"netrisk/pkg/models"
)

// aliases maps alternative source keys onto canonical field names.
var aliases = map[string]string{
	"@timestamp":  models.FieldTimestamp,
	"ts":          models.FieldTimestamp,
	"fw_id":       models.FieldFirewallID,
	"source_ip":   models.FieldSrcIP,
	"dest_ip":     models.FieldDstIP,
	"source_port": models.FieldSrcPort,
	"dest_port":   models.FieldDstPort,
}

// Parse converts one JSON object into a LogRecord. Values are kept verbatim;
// null becomes absent and nested objects are flattened with dotted keys.
func Parse(data []byte, index int) (models.LogRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return models.LogRecord{Index: index}, err
	}

	rec := models.LogRecord{Index: index}
	fields := make(map[string]string)
	flatten("", raw, fields)
	apply(fields, &rec)
	return rec, nil
}

// ParseLine is Parse for streaming input: a line that is not a JSON object
// yields an empty record so the timestamp detector reports it as corrupt.
func ParseLine(data []byte, index int) models.LogRecord {
	rec, err := Parse(data, index)
	if err != nil {
		logger.Warnf("Unparseable log row %d: %v", index, err)
		return models.LogRecord{Index: index}
	}
	return rec
}

func flatten(prefix string, raw map[string]interface{}, out map[string]string) {
	for key, v := range raw {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(name, nested, out)
			continue
		}
		out[name] = stringify(v)
	}
}

// apply sets fields in sorted key order. Aliases go last and only fill a
// canonical field that is still empty; otherwise they stay in Extra.
func apply(fields map[string]string, rec *models.LogRecord) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var aliased []string
	for _, name := range names {
		if _, ok := aliases[name]; ok {
			aliased = append(aliased, name)
			continue
		}
		rec.SetField(name, fields[name])
	}
	for _, name := range aliased {
		if canonical := aliases[name]; !rec.Has(canonical) {
			rec.SetField(canonical, fields[name])
			continue
		}
		rec.SetField(name, fields[name])
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// ReadJSONL reads one record per non-blank line.
func ReadJSONL(r io.Reader) ([]models.LogRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []models.LogRecord
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, ParseLine(line, len(out)))
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read log lines: %w", err)
	}
	return out, nil
}

// ReadCSV reads a headed CSV export. Short rows leave trailing fields absent
// and rows the CSV reader rejects become empty records.
func ReadCSV(r io.Reader) ([]models.LogRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var out []models.LogRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			logger.Warnf("Unparseable csv row %d: %v", len(out), err)
			out = append(out, models.LogRecord{Index: len(out)})
			continue
		}
		if err != nil {
			return out, fmt.Errorf("read csv row: %w", err)
		}

		fields := make(map[string]string, len(row))
		for i, value := range row {
			if i >= len(header) {
				break
			}
			fields[header[i]] = strings.TrimSpace(value)
		}
		rec := models.LogRecord{Index: len(out)}
		apply(fields, &rec)
		out = append(out, rec)
	}
	return out, nil
}

// ReadFile reads a .csv export or a JSON-lines file.
func ReadFile(path string) ([]models.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	return ReadJSONL(f)
}

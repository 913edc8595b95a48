package findingsclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"netrisk/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// Writer sends findings to ClickHouse via HTTP JSONEachRow.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// row is the table layout. A finding without a resolved time has a NULL ts.
type row struct {
	Timestamp  *string `json:"ts"`
	FirewallID string  `json:"firewall_id"`
	SrcIP      string  `json:"src_ip"`
	DstIP      string  `json:"dst_ip"`
	Protocol   string  `json:"protocol"`
	Action     string  `json:"action"`
	DefectID   string  `json:"defect_id"`
	Severity   string  `json:"severity"`
	Category   string  `json:"category"`
}

const clickhouseTime = "2006-01-02 15:04:05.000"

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "firewall_findings"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	base := strings.TrimRight(cfg.URL, "/")
	endpoint := base + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Write sends a batch of findings.
func (w *Writer) Write(findings []models.AnomalyFinding) error {
	if len(findings) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i := range findings {
		if err := enc.Encode(toRow(&findings[i])); err != nil {
			return fmt.Errorf("failed to marshal finding: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func toRow(f *models.AnomalyFinding) row {
	r := row{
		FirewallID: f.FirewallID,
		SrcIP:      f.SrcIP,
		DstIP:      f.DstIP,
		Protocol:   f.Protocol,
		Action:     f.Action,
		DefectID:   f.DefectID,
		Severity:   string(f.Severity),
		Category:   string(f.Category),
	}
	if f.Timestamp != nil {
		ts := f.Timestamp.UTC().Format(clickhouseTime)
		r.Timestamp = &ts
	}
	return r
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}

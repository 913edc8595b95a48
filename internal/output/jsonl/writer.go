package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"netrisk/internal/logger"
)

// Writer outputs values as JSON lines. A path of "-" writes to stdout.
type Writer[T any] struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
}

// NewWriter creates (or truncates) path.
func NewWriter[T any](path string) (*Writer[T], error) {
	if path == "-" {
		return newWriter[T](os.Stdout, nil), nil
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	logger.Infof("JSONL writer initialized: %s", path)
	return newWriter[T](f, f), nil
}

func newWriter[T any](w io.Writer, f *os.File) *Writer[T] {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer[T]{file: f, buf: buf, encoder: enc}
}

// Write appends items and flushes them.
func (w *Writer[T]) Write(items []T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range items {
		if err := w.encoder.Encode(items[i]); err != nil {
			return fmt.Errorf("failed to encode item: %w", err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the output file.
func (w *Writer[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Read decodes one value per non-blank line.
func Read[T any](r io.Reader) ([]T, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var out []T
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}

// ReadFile decodes a JSON-lines file. A path of "-" reads stdin.
func ReadFile[T any](path string) ([]T, error) {
	if path == "-" {
		return Read[T](os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read[T](f)
}


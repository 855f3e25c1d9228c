package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/maltedev/trustpilot-scraper/internal/models"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

var ErrExportClosed = errors.New("export is closed")

// FormatFor picks JSON lines for *.jsonl paths and a JSON array otherwise.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return FormatJSONL
	}
	return FormatJSON
}

// Export streams records to path. Output goes to path+".tmp" and is renamed
// into place on Close, so a reader never sees a half-written file.
type Export struct {
	mu       sync.Mutex
	filename string
	tmp      *os.File
	w        *bufio.Writer
	format   Format
	count    int
	closed   bool
}

// NewExport creates the temporary export file for filename.
func NewExport(filename string) (*Export, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmp, err := os.Create(filename + ".tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	e := &Export{
		filename: filename,
		tmp:      tmp,
		w:        bufio.NewWriter(tmp),
		format:   FormatFor(filename),
	}

	if e.format == FormatJSON {
		if _, err := e.w.WriteString("["); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, err
		}
	}

	return e, nil
}

func (e *Export) Name() string { return "export" }

func (e *Export) Process(_ context.Context, record *models.CompanyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExportClosed
	}

	switch e.format {
	case FormatJSONL:
		data = append(data, '\n')
	default:
		sep := ",\n"
		if e.count == 0 {
			sep = "\n"
		}
		if _, err := e.w.WriteString(sep); err != nil {
			return err
		}
	}

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	e.count++
	return nil
}

// Count is the number of records written so far.
func (e *Export) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *Export) Filename() string {
	return e.filename
}

// Close finishes the document and moves it into place.
func (e *Export) Close(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.format == FormatJSON {
		tail := "\n]\n"
		if e.count == 0 {
			tail = "]\n"
		}
		if _, err := e.w.WriteString(tail); err != nil {
			e.abort()
			return err
		}
	}

	if err := e.w.Flush(); err != nil {
		e.abort()
		return fmt.Errorf("failed to flush export: %w", err)
	}
	if err := e.tmp.Close(); err != nil {
		os.Remove(e.tmp.Name())
		return fmt.Errorf("failed to close export: %w", err)
	}

	return os.Rename(e.tmp.Name(), e.filename)
}

func (e *Export) abort() {
	e.tmp.Close()
	os.Remove(e.tmp.Name())
}

// ReadRecords loads an export file written in either format.
func ReadRecords(filename string) ([]*models.CompanyRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	if FormatFor(filename) == FormatJSON {
		var records []*models.CompanyRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
		}
		return records, nil
	}

	var records []*models.CompanyRecord
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec models.CompanyRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
		}
		records = append(records, &rec)
	}
	return records, scanner.Err()
}

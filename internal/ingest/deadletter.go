package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/prasad/loghub/internal/record"
)

// DeadLetterWriter appends records that exhausted write retries to an
// NDJSON file, one record per line, so they can be replayed or inspected
// later instead of silently disappearing.
type DeadLetterWriter struct {
	mu   sync.Mutex
	file *os.File
}

func NewDeadLetterWriter(path string) (*DeadLetterWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DeadLetterWriter{file: f}, nil
}

func (d *DeadLetterWriter) Write(records []record.LogRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	enc := json.NewEncoder(d.file)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func (d *DeadLetterWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

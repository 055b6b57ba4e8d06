// Package writer persists per-sample predictions.
package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const fileName = "predictions.csv"

// CSVSaver appends one row per sample to <outputDir>/predictions.csv.
// Rows are buffered; Finalize flushes and closes the file and must be
// called once after the last SaveBatch. Repeated Finalize calls are
// no-ops so callers can both defer it and invoke it on the happy path.
type CSVSaver struct {
	file      *os.File
	w         *csv.Writer
	rows      int
	finalized bool
}

// NewCSVSaver creates outputDir if needed and truncates any previous
// predictions file.
func NewCSVSaver(outputDir string) (*CSVSaver, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", outputDir, err)
	}
	path := filepath.Join(outputDir, fileName)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"filename", "class"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &CSVSaver{file: f, w: w}, nil
}

// SaveBatch appends predictions in batch order. meta carries the source
// image path per sample and must match predictions in length.
func (s *CSVSaver) SaveBatch(predictions []int64, meta []string) error {
	if s.finalized {
		return fmt.Errorf("save batch: writer already finalized")
	}
	if len(predictions) != len(meta) {
		return fmt.Errorf("save batch: %d predictions but %d metadata entries", len(predictions), len(meta))
	}
	for i, pred := range predictions {
		if err := s.w.Write([]string{meta[i], strconv.FormatInt(pred, 10)}); err != nil {
			return fmt.Errorf("write row for %s: %w", meta[i], err)
		}
		s.rows++
	}
	return nil
}

// Rows reports how many sample rows have been saved.
func (s *CSVSaver) Rows() int { return s.rows }

// Finalize flushes buffered rows and closes the file.
func (s *CSVSaver) Finalize() error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush predictions: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close predictions: %w", closeErr)
	}
	return nil
}

// Package manifest reads the FHIR-style dataset manifest and builds the
// validation split.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Error reports a malformed or incomplete manifest.
type Error struct {
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manifest %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("manifest %s: %s", e.Path, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Sample is one validation record: a resolved image path and its
// binary class label.
type Sample struct {
	ImagePath string
	Label     int64
}

type document struct {
	Entry []entry `json:"entry"`
}

type entry struct {
	Resource resource `json:"resource"`
}

type resource struct {
	Content content `json:"content"`
	Note    note    `json:"note"`
}

type content struct {
	URL string `json:"url"`
}

type note struct {
	Text string `json:"text"`
}

// Load parses the manifest at path.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Msg: "read", Err: err}
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &Error{Path: path, Msg: "parse", Err: err}
	}
	return &Manifest{path: path, entries: doc.Entry}, nil
}

// Manifest is a parsed datalist. Entries are read-only.
type Manifest struct {
	path    string
	entries []entry
}

// Len reports the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Split selects entries [start, end) as validation samples in manifest
// order, resolving image paths under dataRoot. Labels follow the gender
// convention of the source datalist: note text "man" maps to class 0 and
// any other text maps to class 1.
func (m *Manifest) Split(start, end int, dataRoot string) ([]Sample, error) {
	if start < 0 || end < start {
		return nil, &Error{Path: m.path, Msg: fmt.Sprintf("invalid split range [%d, %d)", start, end)}
	}
	if end > len(m.entries) {
		return nil, &Error{Path: m.path, Msg: fmt.Sprintf("split range [%d, %d) exceeds %d entries", start, end, len(m.entries))}
	}
	samples := make([]Sample, 0, end-start)
	for i := start; i < end; i++ {
		res := m.entries[i].Resource
		if res.Content.URL == "" {
			return nil, &Error{Path: m.path, Msg: fmt.Sprintf("entry %d has no content.url", i)}
		}
		var label int64 = 1
		if res.Note.Text == "man" {
			label = 0
		}
		samples = append(samples, Sample{
			ImagePath: filepath.Join(dataRoot, res.Content.URL),
			Label:     label,
		})
	}
	return samples, nil
}

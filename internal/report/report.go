package report

import (
	"encoding/json"
	"os"
	"sync"
)

// Report records the outcome of an upload run with enough context per
// failure (source path, sequence number) for a targeted manual re-run.

type Failure struct {
	Path   string `json:"path"`
	Index  int    `json:"index"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	mu       sync.Mutex
	Uploaded int       `json:"uploaded"`
	Skipped  int       `json:"skipped"`
	Failures []Failure `json:"failures"`
}

func New() *Report {
	return &Report{Failures: []Failure{}}
}

func (r *Report) AddFailure(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, f)
}

func (r *Report) SetTotals(uploaded, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Uploaded = uploaded
	r.Skipped = skipped
}

// Save writes the report as indented JSON. A blank path is a no-op.
func (r *Report) Save(path string) error {
	if path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

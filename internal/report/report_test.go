package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestReportSaveAndShape(t *testing.T) {
	r := New()
	r.AddFailure(Failure{Path: "/mail/a.mbox", Index: 3, Code: 503, Reason: "Service Unavailable"})
	r.SetTotals(10, 2)

	path := filepath.Join(t.TempDir(), "report.json")
	if err := r.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Report
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Uploaded != 10 || got.Skipped != 2 {
		t.Fatalf("totals = %d/%d", got.Uploaded, got.Skipped)
	}
	if len(got.Failures) != 1 || got.Failures[0].Index != 3 {
		t.Fatalf("failures = %+v", got.Failures)
	}
}

func TestReportSaveBlankPathNoop(t *testing.T) {
	if err := New().Save(""); err != nil {
		t.Fatalf("blank path should be a no-op, got %v", err)
	}
}

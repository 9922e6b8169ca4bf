// Package uploader drives traversal, normalization and batch submission,
// applying throttling and retry-on-overload.
package uploader

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourname/mailferry/internal/batch"
	"github.com/yourname/mailferry/internal/mailbox"
	"github.com/yourname/mailferry/internal/normalize"
	"github.com/yourname/mailferry/internal/report"
)

// DefaultLabel is always applied so migrated mail stays traceable.
const DefaultLabel = "migrated"

const (
	maxAttempts = 5
	// Fixed delay rather than exponential backoff; the service sheds load
	// briefly and a constant wait matches its documented recovery window.
	overloadBackoff = 30 * time.Second
)

// Submitter is the batch client surface the uploader depends on.
type Submitter interface {
	Submit(ctx context.Context, entries []batch.Entry) (batch.Result, error)
}

// Options select what an upload run marks onto every message.
type Options struct {
	Properties []batch.Property
	Labels     []string
	DryRun     bool
}

// Tally is the final accounting of one run.
type Tally struct {
	Uploaded int
	Rejected int
	Skipped  int
}

// Service runs one migration. Submission is strictly sequential; the
// transport's single connection has no other callers.
type Service struct {
	Submitter  Submitter
	Scanner    *mailbox.Scanner
	Normalizer *normalize.Normalizer
	Rate       interface{ Wait(context.Context) error }
	Log        *slog.Logger
	Report     *report.Report
	Sleep      func(time.Duration) // overridable in tests

	events chan Event
}

func NewService(sub Submitter, sc *mailbox.Scanner, n *normalize.Normalizer, log *slog.Logger) *Service {
	return &Service{
		Submitter:  sub,
		Scanner:    sc,
		Normalizer: n,
		Log:        log,
		Sleep:      time.Sleep,
		events:     make(chan Event, 128),
	}
}

// Events returns a read-only channel of progress events, closed when Run
// returns.
func (s *Service) Events() <-chan Event { return s.events }

// Run migrates every candidate message of src. Individual failures are
// recorded and skipped over; only traversal-level and context errors abort
// the run.
func (s *Service) Run(ctx context.Context, src mailbox.Source, opts Options) (Tally, error) {
	defer func() {
		s.emit(Event{Type: EventRunDone})
		close(s.events)
	}()

	labels := opts.Labels
	if !contains(labels, DefaultLabel) {
		labels = append([]string{DefaultLabel}, labels...)
	}

	var tally Tally
	first := true
	err := s.Scanner.Scan(src, func(m mailbox.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !first && s.Rate != nil {
			if err := s.Rate.Wait(ctx); err != nil {
				return err
			}
		}
		first = false
		ok := s.uploadOne(ctx, m, opts, labels)
		if ok {
			tally.Uploaded++
		} else {
			tally.Rejected++
		}
		s.emit(Event{Type: EventMessageDone, Path: m.Path, Index: m.Index, Uploaded: ok})
		return nil
	})
	tally.Skipped = s.Scanner.Skipped
	if s.Report != nil {
		s.Report.SetTotals(tally.Uploaded, tally.Skipped)
	}
	return tally, err
}

// uploadOne submits a single-entry batch, retrying overload responses with a
// bounded fixed backoff. It reports whether the message was accepted.
func (s *Service) uploadOne(ctx context.Context, m mailbox.Message, opts Options, labels []string) bool {
	norm, err := s.Normalizer.Normalize(m)
	if err != nil {
		s.Log.Error("normalize failed", "path", m.Path, "index", m.Index, "error", err)
		s.fail(m, 0, err.Error())
		return false
	}
	if opts.DryRun {
		s.Log.Info("dry-run", "path", m.Path, "index", m.Index, "rebuilt", norm.Rebuilt)
		return true
	}

	entry := batch.Entry{ID: 1, Payload: norm.Raw, Properties: opts.Properties, Labels: labels}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := s.Submitter.Submit(ctx, []batch.Entry{entry})
		if err != nil {
			s.Log.Error("submit failed", "path", m.Path, "index", m.Index, "error", err)
			s.fail(m, 0, err.Error())
			return false
		}
		st, ok := res.Entries[entry.ID]
		if !ok {
			// An overloaded server may shed the request before producing a
			// feed; a bare HTTP 503 is as retryable as a per-entry one.
			if res.Request.Code == http.StatusServiceUnavailable && attempt < maxAttempts {
				s.Log.Warn("server overloaded, backing off",
					"path", m.Path, "index", m.Index, "attempt", attempt)
				s.Sleep(overloadBackoff)
				continue
			}
			s.Log.Error("no result for entry",
				"path", m.Path, "index", m.Index,
				"request_code", res.Request.Code, "request_reason", res.Request.Reason)
			s.fail(m, res.Request.Code, res.Request.Reason)
			return false
		}
		switch {
		case st.Code == http.StatusCreated:
			s.Log.Info("uploaded", "path", m.Path, "index", m.Index, "message_id", st.MessageID)
			return true
		case st.Code == http.StatusServiceUnavailable && attempt < maxAttempts:
			s.Log.Warn("server overloaded, backing off",
				"path", m.Path, "index", m.Index, "attempt", attempt)
			s.Sleep(overloadBackoff)
		default:
			s.Log.Error("rejected",
				"path", m.Path, "index", m.Index, "code", st.Code, "reason", st.Reason,
				"attempts", attempt)
			s.fail(m, st.Code, st.Reason)
			return false
		}
	}
	return false
}

func (s *Service) fail(m mailbox.Message, code int, reason string) {
	if s.Report != nil {
		s.Report.AddFailure(report.Failure{Path: m.Path, Index: m.Index, Code: code, Reason: reason})
	}
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// drop if slow consumer
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

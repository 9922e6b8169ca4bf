package mailbox

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/emersion/go-mbox"
)

// headerLine matches an RFC822 header field start: token characters followed
// by ": ". Anything not opening with one is not a mail message.
var headerLine = regexp.MustCompile(`^[!-9;-~]+: `)

// Scanner walks a Source and yields candidate messages in traversal order.
// Content failing the header sniff is counted and logged, never fatal.
type Scanner struct {
	Log     *slog.Logger
	Skipped int
}

// Scan visits every candidate message of src in order. A non-nil error from
// fn aborts the walk and is returned as-is.
func (s *Scanner) Scan(src Source, fn func(Message) error) error {
	switch src.Kind {
	case KindMbox:
		return s.scanMboxFile(src.Path, fn)
	case KindMboxTree:
		return s.walkTree(src.Path, func(path string) error {
			return s.scanMboxFile(path, fn)
		})
	case KindMaildir:
		return s.walkTree(src.Path, func(path string) error {
			return s.scanWholeFile(path, fn)
		})
	case KindAppleMail:
		return s.walkAppleTree(src.Path, fn)
	case KindFile:
		return s.scanWholeFile(src.Path, fn)
	}
	return fmt.Errorf("mailbox: cannot scan source kind %v", src.Kind)
}

// Count runs a dry traversal returning how many messages Scan would yield.
func (s *Scanner) Count(src Source) (int, error) {
	counter := Scanner{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	n := 0
	err := counter.Scan(src, func(Message) error {
		n++
		return nil
	})
	return n, err
}

// scanMboxFile yields each delimiter-separated message of one mbox container,
// tagged with its ordinal position.
func (s *Scanner) scanMboxFile(path string, fn func(Message) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mailbox: open mbox: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("mailbox: stat mbox: %w", err)
	}

	r := mbox.NewReader(f)
	for index := 0; ; index++ {
		mr, err := r.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mailbox: read %s: %w", path, err)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return fmt.Errorf("mailbox: read %s message %d: %w", path, index, err)
		}
		if !s.sniff(raw, path, index) {
			continue
		}
		msg := Message{Raw: raw, Path: path, Index: index, ModTime: fi.ModTime()}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

// scanWholeFile yields the file's entire contents as one message.
func (s *Scanner) scanWholeFile(path string, fn func(Message) error) error {
	raw, fi, err := readFile(path)
	if err != nil {
		return err
	}
	if !s.sniff(raw, path, 0) {
		return nil
	}
	return fn(Message{Raw: raw, Path: path, ModTime: fi.ModTime()})
}

// walkTree recurses through dir applying file to every regular file. Sibling
// order is the directory listing order.
func (s *Scanner) walkTree(dir string, file func(path string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("mailbox: list %s: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir():
			if err := s.walkTree(path, file); err != nil {
				return err
			}
		case e.Type().IsRegular():
			if err := file(path); err != nil {
				return err
			}
		}
	}
	return nil
}

// walkAppleTree is like a maildir walk, except .emlx files are unwrapped
// first and a per-mailbox ".mbox" folder only has its Messages subtree
// visited; its siblings hold indexes and attachment caches, not mail.
func (s *Scanner) walkAppleTree(dir string, fn func(Message) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("mailbox: list %s: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir():
			if strings.HasSuffix(e.Name(), ".mbox") {
				messages := filepath.Join(path, "Messages")
				if fi, err := os.Stat(messages); err == nil && fi.IsDir() {
					if err := s.walkAppleTree(messages, fn); err != nil {
						return err
					}
					continue
				}
			}
			if err := s.walkAppleTree(path, fn); err != nil {
				return err
			}
		case e.Type().IsRegular():
			if err := s.scanAppleFile(path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) scanAppleFile(path string, fn func(Message) error) error {
	raw, fi, err := readFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".emlx") {
		raw = unwrapEmlx(raw)
		if raw == nil {
			s.skip(path, 0, "empty or malformed emlx wrapper")
			return nil
		}
	}
	if !s.sniff(raw, path, 0) {
		return nil
	}
	return fn(Message{Raw: raw, Path: path, ModTime: fi.ModTime()})
}

func readFile(path string) ([]byte, os.FileInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("mailbox: read %s: %w", path, err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("mailbox: stat %s: %w", path, err)
	}
	return raw, fi, nil
}

// sniff reports whether raw opens with a header field line, recording a skip
// when it does not.
func (s *Scanner) sniff(raw []byte, path string, index int) bool {
	if headerLine.Match(firstLine(raw)) {
		return true
	}
	s.skip(path, index, "content does not start with a header line")
	return false
}

func (s *Scanner) skip(path string, index int, reason string) {
	s.Skipped++
	if s.Log != nil {
		s.Log.Warn("skipping non-message content",
			"path", path, "index", index, "reason", reason)
	}
}

func firstLine(b []byte) []byte {
	for i, c := range b {
		if c == '\n' || c == '\r' {
			return b[:i]
		}
	}
	return b
}

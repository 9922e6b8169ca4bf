// Package normalize repairs malformed messages just enough for the migration
// endpoint to accept them. Complete messages pass through byte-identical.
package normalize

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/yourname/mailferry/internal/mailbox"
)

const (
	// placeholderRecipient stands in when a message has no To line at all.
	placeholderRecipient = "missing-recipient@unknown.invalid"
	placeholderDomain    = "unknown.invalid"

	dateFormat = time.RFC1123Z
)

// Message is the upload-ready form of a raw message. Rebuilt is set only
// when header repair forced re-serialization.
type Message struct {
	Raw     []byte
	Rebuilt bool
}

// Normalizer synthesizes missing envelope fields.
type Normalizer struct {
	DefaultSender string
	Log           *slog.Logger
}

// Normalize inspects src and repairs, in order: an absent or unparsable To,
// a missing From, a missing Date (from the source file's modification time)
// and a missing content type on an HTML body. When nothing needs repair the
// original bytes are returned untouched, preserving exact whitespace.
func (n *Normalizer) Normalize(src mailbox.Message) (Message, error) {
	sep := "\n"
	if bytes.Contains(src.Raw, []byte("\r\n")) {
		sep = "\r\n"
	}
	head, body := splitMessage(string(src.Raw), sep)
	fields := parseFields(head)
	if len(fields) == 0 {
		return Message{}, fmt.Errorf("normalize: %s[%d]: no header fields", src.Path, src.Index)
	}

	changed := false
	if to := find(fields, "to"); to == nil {
		fields = append(fields, newField("To", placeholderRecipient))
		changed = true
	} else if val := to.value(); !parsesAsAddressList(val) {
		recovered := RecoverAddressList(val)
		to.lines = []string{"To: " + joinAddresses(recovered)}
		changed = true
	}
	if find(fields, "from") == nil {
		fields = append(fields, newField("From", n.DefaultSender))
		changed = true
	}
	if find(fields, "date") == nil {
		fields = append(fields, newField("Date", src.ModTime.Format(dateFormat)))
		changed = true
	}
	if find(fields, "content-type") == nil && looksLikeHTML(body) {
		fields = append(fields, newField("Content-Type", "text/html"))
		changed = true
	}

	if !changed {
		return Message{Raw: src.Raw}, nil
	}
	if n.Log != nil {
		n.Log.Debug("rebuilt message headers", "path", src.Path, "index", src.Index)
	}

	var out strings.Builder
	for _, f := range fields {
		for _, line := range f.lines {
			out.WriteString(line)
			out.WriteString(sep)
		}
	}
	out.WriteString(sep)
	out.WriteString(body)
	return Message{Raw: []byte(out.String()), Rebuilt: true}, nil
}

// field is one header field with its raw lines, folded continuations
// included, so untouched fields re-serialize exactly as they arrived.
type field struct {
	name  string
	lines []string
}

func newField(name, value string) *field {
	return &field{name: name, lines: []string{name + ": " + value}}
}

// value unfolds the field into a single-space-joined string.
func (f *field) value() string {
	_, first, _ := strings.Cut(f.lines[0], ":")
	parts := []string{strings.TrimSpace(first)}
	for _, cont := range f.lines[1:] {
		parts = append(parts, strings.TrimSpace(cont))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func splitMessage(raw, sep string) (head, body string) {
	if i := strings.Index(raw, sep+sep); i >= 0 {
		return raw[:i], raw[i+2*len(sep):]
	}
	return strings.TrimRight(raw, sep), ""
}

func parseFields(head string) []*field {
	var fields []*field
	var cur *field
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if cur != nil {
				cur.lines = append(cur.lines, line)
			}
			continue
		}
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			cur = nil
			continue
		}
		cur = &field{name: strings.TrimSpace(name), lines: []string{line}}
		fields = append(fields, cur)
	}
	return fields
}

func find(fields []*field, lower string) *field {
	for _, f := range fields {
		if strings.ToLower(f.name) == lower {
			return f
		}
	}
	return nil
}

func parsesAsAddressList(val string) bool {
	if strings.TrimSpace(val) == "" {
		return false
	}
	_, err := mail.ParseAddressList(val)
	return err == nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// RecoverAddressList parses a loose recipient list: entries are separated by
// semicolons and quotes are stripped before parsing. An entry that still
// fails address parsing becomes a placeholder address synthesized from a
// sanitized lowercase form of the text, keeping the original text as the
// display name.
func RecoverAddressList(raw string) []*mail.Address {
	var out []*mail.Address
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cleaned := strings.ReplaceAll(part, `"`, "")
		if addr, err := mail.ParseAddress(cleaned); err == nil {
			out = append(out, addr)
			continue
		}
		out = append(out, &mail.Address{
			Name:    part,
			Address: sanitizeLocal(part) + "@" + placeholderDomain,
		})
	}
	if len(out) == 0 {
		out = append(out, &mail.Address{Address: placeholderRecipient})
	}
	return out
}

func sanitizeLocal(s string) string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}

func joinAddresses(addrs []*mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// looksLikeHTML reports whether the body's leading non-whitespace content is
// an HTML opening tag.
func looksLikeHTML(body string) bool {
	trimmed := strings.TrimLeft(body, " \t\r\n")
	return len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "<html")
}

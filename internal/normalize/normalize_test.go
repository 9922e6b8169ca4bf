package normalize

import (
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/yourname/mailferry/internal/mailbox"
)

const completeMessage = "From: a@example.com\r\n" +
	"To: b@example.com\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Subject: all   good\r\n" +
	"\r\n" +
	"body with  exact   whitespace\r\n"

func TestNormalizeCompleteMessagePassesThrough(t *testing.T) {
	n := &Normalizer{DefaultSender: "sender@example.com"}
	got, err := n.Normalize(mailbox.Message{Raw: []byte(completeMessage), ModTime: time.Now()})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.Rebuilt {
		t.Fatal("complete message must not be rebuilt")
	}
	if string(got.Raw) != completeMessage {
		t.Fatalf("bytes changed:\n%q\n%q", got.Raw, completeMessage)
	}
}

func TestNormalizeMissingFrom(t *testing.T) {
	raw := "To: b@example.com\nDate: Mon, 02 Jan 2006 15:04:05 -0700\n\nbody\n"
	n := &Normalizer{DefaultSender: "sender@example.com"}
	got, err := n.Normalize(mailbox.Message{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !got.Rebuilt {
		t.Fatal("expected rebuild")
	}
	msg, err := mail.ReadMessage(strings.NewReader(string(got.Raw)))
	if err != nil {
		t.Fatalf("rebuilt message unparsable: %v", err)
	}
	if from := msg.Header.Get("From"); from != "sender@example.com" {
		t.Fatalf("from = %q", from)
	}
}

func TestNormalizeMissingDateUsesModTime(t *testing.T) {
	raw := "From: a@example.com\nTo: b@example.com\n\nbody\n"
	mod := time.Date(2003, time.July, 12, 8, 30, 0, 0, time.UTC)
	n := &Normalizer{DefaultSender: "sender@example.com"}
	got, err := n.Normalize(mailbox.Message{Raw: []byte(raw), ModTime: mod})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	msg, err := mail.ReadMessage(strings.NewReader(string(got.Raw)))
	if err != nil {
		t.Fatalf("rebuilt message unparsable: %v", err)
	}
	parsed, err := mail.ParseDate(msg.Header.Get("Date"))
	if err != nil {
		t.Fatalf("parse date %q: %v", msg.Header.Get("Date"), err)
	}
	if !parsed.Equal(mod) {
		t.Fatalf("date = %v, want %v", parsed, mod)
	}
}

func TestNormalizeNoToLineAtAll(t *testing.T) {
	raw := "From: a@example.com\nDate: Mon, 02 Jan 2006 15:04:05 -0700\n\nbody\n"
	n := &Normalizer{DefaultSender: "sender@example.com"}
	got, err := n.Normalize(mailbox.Message{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	msg, err := mail.ReadMessage(strings.NewReader(string(got.Raw)))
	if err != nil {
		t.Fatalf("rebuilt message unparsable: %v", err)
	}
	if to := msg.Header.Get("To"); to != placeholderRecipient {
		t.Fatalf("to = %q, want placeholder", to)
	}
}

func TestNormalizeHTMLBodyGetsContentType(t *testing.T) {
	raw := "From: a@example.com\nTo: b@example.com\nDate: Mon, 02 Jan 2006 15:04:05 -0700\n\n  \n<HTML><body>hi</body></HTML>\n"
	n := &Normalizer{DefaultSender: "sender@example.com"}
	got, err := n.Normalize(mailbox.Message{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !got.Rebuilt {
		t.Fatal("expected rebuild")
	}
	msg, err := mail.ReadMessage(strings.NewReader(string(got.Raw)))
	if err != nil {
		t.Fatalf("rebuilt message unparsable: %v", err)
	}
	if ct := msg.Header.Get("Content-Type"); ct != "text/html" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestRecoverAddressList(t *testing.T) {
	got := RecoverAddressList("a@b.com; Bad Name <not an address")
	if len(got) != 2 {
		t.Fatalf("addresses = %d, want 2", len(got))
	}
	if got[0].Address != "a@b.com" {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Name != "Bad Name <not an address" {
		t.Fatalf("second display name = %q", got[1].Name)
	}
	if got[1].Address != "bad-name-not-an-address@unknown.invalid" {
		t.Fatalf("second address = %q", got[1].Address)
	}
}

func TestRecoverAddressListQuotesStripped(t *testing.T) {
	got := RecoverAddressList(`"John Doe" <j@d.example>`)
	if len(got) != 1 || got[0].Address != "j@d.example" || got[0].Name != "John Doe" {
		t.Fatalf("got %+v", got)
	}
}

func TestNormalizeUnparsableToRecovered(t *testing.T) {
	raw := "From: a@example.com\nTo: a@b.com; Bad Name <not an address\nDate: Mon, 02 Jan 2006 15:04:05 -0700\n\nbody\n"
	n := &Normalizer{DefaultSender: "sender@example.com"}
	got, err := n.Normalize(mailbox.Message{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	msg, err := mail.ReadMessage(strings.NewReader(string(got.Raw)))
	if err != nil {
		t.Fatalf("rebuilt message unparsable: %v", err)
	}
	addrs, err := mail.ParseAddressList(msg.Header.Get("To"))
	if err != nil {
		t.Fatalf("recovered To still unparsable: %v", err)
	}
	if len(addrs) != 2 || addrs[0].Address != "a@b.com" {
		t.Fatalf("addresses = %+v", addrs)
	}
}

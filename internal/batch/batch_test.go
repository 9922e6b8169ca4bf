package batch

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/yourname/mailferry/internal/transport"
)

// echo structures re-parse an encoded request document using the declared
// namespaces, proving the wire shape rather than our own marshaling.
type echoFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []echoEntry `xml:"entry"`
}

type echoEntry struct {
	Category struct {
		Scheme string `xml:"scheme,attr"`
		Term   string `xml:"term,attr"`
	} `xml:"http://www.w3.org/2005/Atom category"`
	Message struct {
		Encoding string `xml:"encoding,attr"`
		Value    string `xml:",chardata"`
	} `xml:"http://schemas.google.com/apps/2006 rfc822Msg"`
	Properties []struct {
		Value string `xml:"value,attr"`
	} `xml:"http://schemas.google.com/apps/2006 mailItemProperty"`
	Labels []struct {
		Name string `xml:"labelName,attr"`
	} `xml:"http://schemas.google.com/apps/2006 label"`
	BatchID string `xml:"http://schemas.google.com/gdata/batch id"`
}

func TestEncodeRoundTrip(t *testing.T) {
	entries := []Entry{
		{
			ID:         1,
			Payload:    []byte("From: a@b.com\r\n\r\nhello"),
			Properties: []Property{PropInbox, PropUnread},
			Labels:     []string{"migrated", "old-mail"},
		},
		{
			ID:      2,
			Payload: []byte("From: c@d.com\r\n\r\nworld"),
			Labels:  []string{"migrated"},
		},
	}
	doc, err := Encode(entries)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var feed echoFeed
	if err := xml.Unmarshal(doc, &feed); err != nil {
		t.Fatalf("re-parse encoded doc: %v", err)
	}
	if len(feed.Entries) != len(entries) {
		t.Fatalf("entries = %d, want %d", len(feed.Entries), len(entries))
	}
	for i, got := range feed.Entries {
		want := entries[i]
		if got.Category.Scheme != kindScheme || got.Category.Term != mailItemKind {
			t.Errorf("entry %d: category = %+v", i, got.Category)
		}
		if got.BatchID != strconv.Itoa(want.ID) {
			t.Errorf("entry %d: batch id = %q, want %d", i, got.BatchID, want.ID)
		}
		if got.Message.Encoding != "base64" {
			t.Errorf("entry %d: encoding = %q", i, got.Message.Encoding)
		}
		payload, err := base64.StdEncoding.DecodeString(got.Message.Value)
		if err != nil {
			t.Fatalf("entry %d: decode payload: %v", i, err)
		}
		if string(payload) != string(want.Payload) {
			t.Errorf("entry %d: payload = %q, want %q", i, payload, want.Payload)
		}
		var props []Property
		for _, p := range got.Properties {
			props = append(props, Property(p.Value))
		}
		if !reflect.DeepEqual(props, want.Properties) {
			t.Errorf("entry %d: properties = %v, want %v", i, props, want.Properties)
		}
		var labels []string
		for _, l := range got.Labels {
			labels = append(labels, l.Name)
		}
		if !reflect.DeepEqual(labels, want.Labels) {
			t.Errorf("entry %d: labels = %v, want %v", i, labels, want.Labels)
		}
	}
}

const sampleResponse = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:batch="http://schemas.google.com/gdata/batch">
  <id>https://example.com/feeds/migration</id>
  <entry>
    <id>https://example.com/feeds/migration/msg-17</id>
    <batch:id>1</batch:id>
    <batch:status code="201" reason="Created"/>
  </entry>
  <entry>
    <batch:id>2</batch:id>
    <batch:status code="503" reason="Service Unavailable"/>
  </entry>
  <entry>
    <title>informational entry with neither id nor status</title>
  </entry>
</feed>`

func TestDecode(t *testing.T) {
	sts, err := Decode([]byte(sampleResponse))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sts) != 2 {
		t.Fatalf("statuses = %d, want 2 (informational entry must be ignored)", len(sts))
	}
	if got := sts[1]; got.Code != 201 || got.Reason != "Created" {
		t.Fatalf("entry 1 = %+v", got)
	}
	if got := sts[1]; got.MessageID != "https://example.com/feeds/migration/msg-17" {
		t.Fatalf("entry 1 message id = %q", got.MessageID)
	}
	if got := sts[2]; got.Code != 503 {
		t.Fatalf("entry 2 = %+v", got)
	}
}

func TestDecodeStatusWithoutUsableID(t *testing.T) {
	const feed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:batch="http://schemas.google.com/gdata/batch">
  <entry>
    <batch:status code="400" reason="Bad Request"/>
  </entry>
</feed>`
	sts, err := Decode([]byte(feed))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := sts[StrayEntryID]
	if !ok {
		t.Fatalf("statused entry without batch id must surface under StrayEntryID, got %v", sts)
	}
	if got.Code != 400 || got.Reason != "Bad Request" {
		t.Fatalf("stray status = %+v", got)
	}
}

func TestDecodeBadFeed(t *testing.T) {
	_, err := Decode([]byte("<html>this is not a feed"))
	if !errors.Is(err, ErrBadFeed) {
		t.Fatalf("err = %v, want ErrBadFeed", err)
	}
}

type fakeSender struct {
	resp   *transport.Response
	err    error
	gotRef string
}

func (f *fakeSender) Send(_ context.Context, _, ref string, _ []byte, _ string) (*transport.Response, error) {
	f.gotRef = ref
	return f.resp, f.err
}

func TestSubmit(t *testing.T) {
	fake := &fakeSender{resp: &transport.Response{Code: 201, Reason: "Created", Body: []byte(sampleResponse)}}
	c := &Client{Transport: fake, Domain: "example.com", Username: "joe"}
	res, err := c.Submit(context.Background(), []Entry{{ID: 1, Payload: []byte("x")}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if fake.gotRef != "/a/feeds/migration/2.0/example.com/joe/mail/batch" {
		t.Fatalf("endpoint = %q", fake.gotRef)
	}
	if res.Request.Code != 201 || res.Request.Reason != "Created" {
		t.Fatalf("request status = %+v", res.Request)
	}
	if res.Entries[1].Code != 201 {
		t.Fatalf("entry status = %+v", res.Entries[1])
	}
}

func TestSubmitHTTPErrorStillYieldsResult(t *testing.T) {
	fake := &fakeSender{err: &transport.StatusError{Response: transport.Response{
		Code: 400, Reason: "Bad Request", Body: []byte("not a feed"),
	}}}
	c := &Client{Transport: fake, Domain: "example.com", Username: "joe"}
	res, err := c.Submit(context.Background(), []Entry{{ID: 1}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Request.Code != 400 {
		t.Fatalf("request status = %+v", res.Request)
	}
	if len(res.Entries) != 0 {
		t.Fatalf("entries = %v, want none", res.Entries)
	}
}

func TestSubmitUndecodableSuccessBody(t *testing.T) {
	fake := &fakeSender{resp: &transport.Response{Code: 200, Reason: "OK", Body: []byte("garbage")}}
	c := &Client{Transport: fake, Domain: "example.com", Username: "joe"}
	_, err := c.Submit(context.Background(), []Entry{{ID: 1}})
	if !errors.Is(err, ErrBadFeed) {
		t.Fatalf("err = %v, want ErrBadFeed", err)
	}
}

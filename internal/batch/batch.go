// Package batch encodes mail messages into the Atom batch feed the migration
// endpoint accepts and decodes the per-entry outcomes it returns.
package batch

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
)

const (
	atomNS  = "http://www.w3.org/2005/Atom"
	appsNS  = "http://schemas.google.com/apps/2006"
	batchNS = "http://schemas.google.com/gdata/batch"

	kindScheme   = "http://schemas.google.com/g/2005#kind"
	mailItemKind = "http://schemas.google.com/apps/2006#mailItem"
)

// ErrBadFeed means a response body could not be parsed as a feed document.
var ErrBadFeed = errors.New("batch: response is not a feed document")

// StrayEntryID keys statuses whose entries carried a status but no usable
// batch id. Request ids start at 1, so it never collides.
const StrayEntryID = 0

// Property is a mail item property marker understood by the service.
type Property string

const (
	PropDraft   Property = "IS_DRAFT"
	PropInbox   Property = "IS_INBOX"
	PropSent    Property = "IS_SENT"
	PropTrash   Property = "IS_TRASH"
	PropStarred Property = "IS_STARRED"
	PropUnread  Property = "IS_UNREAD"
)

// Entry is one message submitted within a batch request. IDs must be unique
// and dense (1..n) within a request.
type Entry struct {
	ID         int
	Payload    []byte
	Properties []Property
	Labels     []string
}

// Status is the outcome reported for one batch entry, or for the request as
// a whole.
type Status struct {
	Code      int
	Reason    string
	MessageID string
}

// Result maps batch ids to their statuses. Request always reflects the raw
// HTTP status line, independent of per-entry results, so callers can tell a
// request-level 400 from item-level ones.
type Result struct {
	Request Status
	Entries map[int]Status
}

type feedDoc struct {
	XMLName xml.Name   `xml:"feed"`
	AtomNS  string     `xml:"xmlns,attr"`
	AppsNS  string     `xml:"xmlns:apps,attr"`
	BatchNS string     `xml:"xmlns:batch,attr"`
	Entries []entryDoc `xml:"entry"`
}

type entryDoc struct {
	Category   categoryDoc   `xml:"category"`
	Message    rfc822Doc     `xml:"apps:rfc822Msg"`
	Properties []propertyDoc `xml:"apps:mailItemProperty"`
	Labels     []labelDoc    `xml:"apps:label"`
	BatchID    int           `xml:"batch:id"`
}

type categoryDoc struct {
	Scheme string `xml:"scheme,attr"`
	Term   string `xml:"term,attr"`
}

type rfc822Doc struct {
	Encoding string `xml:"encoding,attr"`
	Value    string `xml:",chardata"`
}

type propertyDoc struct {
	Value string `xml:"value,attr"`
}

type labelDoc struct {
	Name string `xml:"labelName,attr"`
}

// Encode builds the batch request document for a set of entries. Payloads
// are transmitted base64-encoded.
func Encode(entries []Entry) ([]byte, error) {
	doc := feedDoc{AtomNS: atomNS, AppsNS: appsNS, BatchNS: batchNS}
	for _, e := range entries {
		ed := entryDoc{
			Category: categoryDoc{Scheme: kindScheme, Term: mailItemKind},
			Message: rfc822Doc{
				Encoding: "base64",
				Value:    base64.StdEncoding.EncodeToString(e.Payload),
			},
			BatchID: e.ID,
		}
		for _, p := range e.Properties {
			ed.Properties = append(ed.Properties, propertyDoc{Value: string(p)})
		}
		for _, l := range e.Labels {
			ed.Labels = append(ed.Labels, labelDoc{Name: l})
		}
		doc.Entries = append(doc.Entries, ed)
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("batch: encode feed: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Response-side structures use namespace-qualified tags because the service
// declares its namespaces explicitly.
type respFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []respEntry `xml:"entry"`
}

type respEntry struct {
	AtomID  string      `xml:"http://www.w3.org/2005/Atom id"`
	BatchID string      `xml:"http://schemas.google.com/gdata/batch id"`
	Status  *respStatus `xml:"http://schemas.google.com/gdata/batch status"`
}

type respStatus struct {
	Code   int    `xml:"code,attr"`
	Reason string `xml:"reason,attr"`
}

// Decode extracts per-entry statuses from a response feed. Entries carrying
// neither a batch id nor a status are ordinary feed content and are skipped;
// a statused entry with a missing or garbled id lands under StrayEntryID so
// it stays visible to the caller.
func Decode(body []byte) (map[int]Status, error) {
	var doc respFeed
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFeed, err)
	}
	statuses := make(map[int]Status)
	for _, e := range doc.Entries {
		if e.BatchID == "" && e.Status == nil {
			continue
		}
		id, err := strconv.Atoi(e.BatchID)
		if err != nil {
			id = StrayEntryID
		}
		st := Status{MessageID: e.AtomID}
		if e.Status != nil {
			st.Code = e.Status.Code
			st.Reason = e.Status.Reason
		}
		statuses[id] = st
	}
	return statuses, nil
}

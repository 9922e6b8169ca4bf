package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yourname/mailferry/internal/transport"
)

// Sender is the slice of transport.Client the migration client needs.
type Sender interface {
	Send(ctx context.Context, method, ref string, body []byte, contentType string) (*transport.Response, error)
}

// Client submits batch feeds to one user's migration endpoint.
type Client struct {
	Transport Sender
	Domain    string
	Username  string
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("/a/feeds/migration/2.0/%s/%s/mail/batch",
		url.PathEscape(c.Domain), url.PathEscape(c.Username))
}

// Submit encodes entries, posts them and decodes the outcome. An HTTP error
// status still yields a Result (with Request reflecting the status line) so
// the caller can apply its per-entry rejection logic; only transport-level
// failures surface as errors.
func (c *Client) Submit(ctx context.Context, entries []Entry) (Result, error) {
	doc, err := Encode(entries)
	if err != nil {
		return Result{}, err
	}
	resp, err := c.Transport.Send(ctx, http.MethodPost, c.endpoint(), doc, "application/atom+xml")
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) {
			res := Result{
				Request: Status{Code: se.Response.Code, Reason: se.Response.Reason},
				Entries: map[int]Status{},
			}
			// The error body may still be a feed with per-entry diagnostics.
			if sts, derr := Decode(se.Response.Body); derr == nil {
				res.Entries = sts
			}
			return res, nil
		}
		return Result{}, err
	}
	sts, err := Decode(resp.Body)
	if err != nil {
		return Result{Request: Status{Code: resp.Code, Reason: resp.Reason}}, err
	}
	return Result{Request: Status{Code: resp.Code, Reason: resp.Reason}, Entries: sts}, nil
}

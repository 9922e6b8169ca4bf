// Package auth performs the one-shot ClientLogin credential exchange and
// installs the resulting bearer token into the transport.
package auth

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/yourname/mailferry/internal/transport"
)

const loginPath = "/accounts/ClientLogin"

// ErrNoToken means the login response lacked the Auth key. Credentials or
// the requested service are wrong; retrying cannot help.
var ErrNoToken = errors.New("auth: login response missing Auth token")

// Credentials identify the account performing the migration.
type Credentials struct {
	Email       string
	Password    string
	AccountType string // defaults to HOSTED
	Service     string // defaults to apps
}

// Sender is the slice of transport.Client that Login needs.
type Sender interface {
	Send(ctx context.Context, method, ref string, body []byte, contentType string) (*transport.Response, error)
	SetAuthorization(v string)
}

// Login posts the credentials as a form, extracts the Auth token from the
// NAME=VALUE response body and installs it on t for all subsequent calls.
// The login request itself is unauthenticated.
func Login(ctx context.Context, t Sender, creds Credentials) (string, error) {
	if creds.AccountType == "" {
		creds.AccountType = "HOSTED"
	}
	if creds.Service == "" {
		creds.Service = "apps"
	}
	form := url.Values{
		"Email":       {creds.Email},
		"Passwd":      {creds.Password},
		"accountType": {creds.AccountType},
		"service":     {creds.Service},
	}
	resp, err := t.Send(ctx, http.MethodPost, loginPath, []byte(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", fmt.Errorf("auth: login: %w", err)
	}
	token := parsePairs(resp.Body)["Auth"]
	if token == "" {
		return "", ErrNoToken
	}
	t.SetAuthorization(HeaderValue(token))
	return token, nil
}

// HeaderValue formats a token as the Authorization header value the service
// expects.
func HeaderValue(token string) string {
	return "GoogleLogin auth=" + token
}

// parsePairs decodes a NAME=VALUE body, one pair per line.
func parsePairs(body []byte) map[string]string {
	pairs := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		pairs[name] = value
	}
	return pairs
}

// Package email sends transactional email through Resend.
package email

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/nopego-checkout/internal/httpclient"
)

// DefaultBaseURL is the Resend API root.
const DefaultBaseURL = "https://api.resend.com"

// Config holds Resend credentials.
type Config struct {
	APIKey  string
	From    string
	BaseURL string
}

// Enabled reports whether an API key is configured.
func (c Config) Enabled() bool { return c.APIKey != "" }

// Message is an outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Client sends email.
type Client struct {
	cfg  Config
	base string
	http *http.Client
}

// New creates a Client.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("resend api key is required")
	}
	if cfg.From == "" {
		cfg.From = "orders@nopego.com"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpclient.New(10 * time.Second)
	}
	return &Client{cfg: cfg, base: strings.TrimRight(cfg.BaseURL, "/"), http: httpClient}, nil
}

// Send delivers m and returns the provider message id.
func (c *Client) Send(ctx context.Context, m Message) (string, error) {
	if m.To == "" {
		return "", errors.New("email recipient is required")
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("from", func(e *jx.Encoder) { e.Str(c.cfg.From) })
		e.Field("to", func(e *jx.Encoder) { e.Arr(func(e *jx.Encoder) { e.Str(m.To) }) })
		e.Field("subject", func(e *jx.Encoder) { e.Str(m.Subject) })
		e.Field("html", func(e *jx.Encoder) { e.Str(m.HTML) })
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/emails", bytes.NewReader(e.Bytes()))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send email")
	}
	body, err := httpclient.ReadBody(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", errors.Errorf("resend: %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var id string
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		var err error
		id, err = d.Str()
		return err
	}); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	return id, nil
}

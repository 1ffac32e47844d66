// Package whatsapp sends text messages through the WhatsApp Cloud API.
package whatsapp

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

// DefaultBaseURL is the Graph API root.
const DefaultBaseURL = "https://graph.facebook.com/v18.0"

// ErrNoRecipient is returned when the phone number has no digits.
var ErrNoRecipient = errors.New("whatsapp recipient has no digits")

// Config holds Cloud API credentials.
type Config struct {
	PhoneID    string
	Token      string
	AdminPhone string
	BaseURL    string
}

// Enabled reports whether credentials are configured.
func (c Config) Enabled() bool {
	return c.PhoneID != "" && c.Token != ""
}

// Client sends WhatsApp messages.
type Client struct {
	cfg  Config
	base string
	http *http.Client
}

// New creates a Client.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("whatsapp phone id and token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpclient.New(10 * time.Second)
	}
	return &Client{cfg: cfg, base: strings.TrimRight(cfg.BaseURL, "/"), http: httpClient}, nil
}

// AdminPhone is the number that receives operational alerts.
func (c *Client) AdminPhone() string { return c.cfg.AdminPhone }

// Send delivers a text message to phone. Non-digits are stripped.
func (c *Client) Send(ctx context.Context, phone, text string) error {
	to := Digits(phone)
	if to == "" {
		return ErrNoRecipient
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("messaging_product", func(e *jx.Encoder) { e.Str("whatsapp") })
		e.Field("to", func(e *jx.Encoder) { e.Str(to) })
		e.Field("type", func(e *jx.Encoder) { e.Str("text") })
		e.Field("text", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("body", func(e *jx.Encoder) { e.Str(text) })
			})
		})
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+c.cfg.PhoneID+"/messages", bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	body, err := httpclient.ReadBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("whatsapp: %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Package razorpay implements payment.Gateway on the Razorpay Orders API.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/payment"
	"github.com/xenking/nopego-checkout/internal/httpclient"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.razorpay.com"

// Config holds gateway credentials.
type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay: %d %s: %s", e.StatusCode, e.Code, e.Description)
}

var _ payment.Gateway = (*Client)(nil)

// Client talks to Razorpay.
type Client struct {
	keyID   string
	secret  string
	baseURL string
	http    *http.Client
}

// New creates a Client. A nil httpClient gets an instrumented default.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpclient.New(10 * time.Second)
	}
	return &Client{
		keyID:   cfg.KeyID,
		secret:  cfg.KeySecret,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

// KeyID is the public key the storefront needs to open checkout.
func (c *Client) KeyID() string { return c.keyID }

// CreateIntent creates a Razorpay order for amount rupees.
func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, reference string) (*payment.Intent, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(payment.MinorUnits(amount)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(payment.Currency) })
		e.Field("receipt", func(e *jx.Encoder) { e.Str(reference) })
		e.Field("notes", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("orderNumber", func(e *jx.Encoder) { e.Str(reference) })
			})
		})
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(c.keyID, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	body, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, decodeError(resp.StatusCode, body)
	}

	intent, err := decodeIntent(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	if intent.ID == "" {
		return nil, errors.New("razorpay returned an order without id")
	}
	return intent, nil
}

// Verify checks the confirmation signature in constant time.
func (c *Client) Verify(conf payment.Confirmation) error {
	got, err := hex.DecodeString(conf.Signature)
	if err != nil {
		return payment.ErrInvalidSignature
	}
	want := mac(c.secret, conf.IntentID, conf.PaymentID)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return payment.ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex signature Razorpay produces for a captured payment.
func Sign(secret, intentID, paymentID string) string {
	return hex.EncodeToString(mac(secret, intentID, paymentID))
}

func mac(secret, intentID, paymentID string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(intentID + "|" + paymentID))
	return h.Sum(nil)
}

func decodeIntent(body []byte) (*payment.Intent, error) {
	var intent payment.Intent
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			intent.ID, err = d.Str()
		case "amount":
			intent.Amount, err = d.Int64()
		case "currency":
			intent.Currency, err = d.Str()
		case "receipt":
			if d.Next() == jx.Null {
				return d.Null()
			}
			intent.Receipt, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "code":
				apiErr.Code, err = d.Str()
			case "description":
				apiErr.Description, err = d.Str()
			default:
				return d.Skip()
			}
			return err
		})
	})
	return apiErr
}

// Package shiprocket creates, tracks and cancels shipments through the
// Shiprocket external API.
package shiprocket

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/httpclient"
	"github.com/xenking/nopego-checkout/internal/tokencache"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"

// Package dimensions used for every shoe box.
const (
	PackageLength  = 32
	PackageBreadth = 25
	PackageHeight  = 14
	PackageWeight  = 0.8
)

const tokenKey = "shiprocket:token"

// Config holds carrier credentials.
type Config struct {
	Email          string
	Password       string
	BaseURL        string
	PickupLocation string
	TokenTTL       time.Duration
}

// Enabled reports whether credentials are configured.
func (c Config) Enabled() bool {
	return c.Email != "" && c.Password != ""
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shiprocket: %d: %s", e.StatusCode, e.Message)
}

// Item is one line of a shipment.
type Item struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice decimal.Decimal
}

// ShipmentRequest describes a parcel to book.
type ShipmentRequest struct {
	OrderNumber    string
	OrderDate      time.Time
	CustomerName   string
	Email          string
	Phone          string
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	Pincode        string
	Items          []Item
	CashOnDelivery bool
	SubTotal       decimal.Decimal
}

// Shipment is the carrier's booking.
type Shipment struct {
	// OrderID is the carrier's order reference used for cancellation.
	OrderID    string
	ShipmentID string
	Status     string
	AWB        string
	Courier    string
}

// Activity is one scan event.
type Activity struct {
	Date     string
	Status   string
	Location string
}

// Tracking is the current state of an AWB.
type Tracking struct {
	Status     string
	Activities []Activity
}

// Client is a Shiprocket API client.
type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	tokens *tokencache.Source
}

// New creates a Client. Tokens are cached in store so replicas share a login.
func New(cfg Config, store tokencache.Store, httpClient *http.Client) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("shiprocket email and password are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PickupLocation == "" {
		cfg.PickupLocation = "Primary"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 9 * time.Hour
	}
	if httpClient == nil {
		httpClient = httpclient.New(15 * time.Second)
	}
	c := &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: httpClient,
	}
	c.tokens = tokencache.NewSource(store, tokenKey, c.login)
	return c, nil
}

func (c *Client) login(ctx context.Context) (tokencache.Token, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("email", func(e *jx.Encoder) { e.Str(c.cfg.Email) })
		e.Field("password", func(e *jx.Encoder) { e.Str(c.cfg.Password) })
	})

	status, body, err := c.send(ctx, http.MethodPost, "/auth/login", "", e.Bytes())
	if err != nil {
		return tokencache.Token{}, err
	}
	if status/100 != 2 {
		return tokencache.Token{}, decodeError(status, body)
	}

	var token string
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "token" {
			return d.Skip()
		}
		var err error
		token, err = d.Str()
		return err
	}); err != nil {
		return tokencache.Token{}, errors.Wrap(err, "decode login")
	}
	if token == "" {
		return tokencache.Token{}, errors.New("shiprocket auth failed")
	}
	return tokencache.Token{Value: token, ValidUntil: time.Now().Add(c.cfg.TokenTTL)}, nil
}

// CreateShipment books an adhoc order.
func (c *Client) CreateShipment(ctx context.Context, r ShipmentRequest) (*Shipment, error) {
	first, last := splitName(r.CustomerName)
	address := r.AddressLine1
	if r.AddressLine2 != "" {
		address += ", " + r.AddressLine2
	}
	method := "Prepaid"
	if r.CashOnDelivery {
		method = "COD"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		str := func(k, v string) { e.Field(k, func(e *jx.Encoder) { e.Str(v) }) }
		str("order_id", r.OrderNumber)
		str("order_date", r.OrderDate.Format("2006-01-02"))
		str("pickup_location", c.cfg.PickupLocation)
		str("billing_customer_name", first)
		str("billing_last_name", last)
		str("billing_address", address)
		str("billing_city", r.City)
		str("billing_pincode", r.Pincode)
		str("billing_state", r.State)
		str("billing_country", "India")
		str("billing_email", r.Email)
		str("billing_phone", r.Phone)
		e.Field("shipping_is_billing", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("order_items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range r.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(it.SKU) })
						e.Field("units", func(e *jx.Encoder) { e.Int(it.Units) })
						e.Field("selling_price", func(e *jx.Encoder) { e.Raw([]byte(it.SellingPrice.String())) })
					})
				}
			})
		})
		str("payment_method", method)
		e.Field("sub_total", func(e *jx.Encoder) { e.Raw([]byte(r.SubTotal.String())) })
		e.Field("length", func(e *jx.Encoder) { e.Int(PackageLength) })
		e.Field("breadth", func(e *jx.Encoder) { e.Int(PackageBreadth) })
		e.Field("height", func(e *jx.Encoder) { e.Int(PackageHeight) })
		e.Field("weight", func(e *jx.Encoder) { e.Float64(PackageWeight) })
	})

	body, err := c.authorized(ctx, http.MethodPost, "/orders/create/adhoc", e.Bytes())
	if err != nil {
		return nil, err
	}

	var s Shipment
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			s.OrderID, err = scalar(d)
		case "shipment_id":
			s.ShipmentID, err = scalar(d)
		case "status":
			s.Status, err = scalar(d)
		case "awb_code":
			s.AWB, err = scalar(d)
		case "courier_name":
			s.Courier, err = scalar(d)
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode shipment")
	}
	if s.OrderID == "" {
		return nil, errors.New("shiprocket returned no order id")
	}
	return &s, nil
}

// Track returns the scan history of an AWB.
func (c *Client) Track(ctx context.Context, awb string) (*Tracking, error) {
	body, err := c.authorized(ctx, http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), nil)
	if err != nil {
		return nil, err
	}

	var t Tracking
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "tracking_data" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "shipment_track":
				return d.Arr(func(d *jx.Decoder) error {
					return d.Obj(func(d *jx.Decoder, key string) error {
						if key != "current_status" || t.Status != "" {
							return d.Skip()
						}
						var err error
						t.Status, err = scalar(d)
						return err
					})
				})
			case "shipment_track_activities":
				if d.Next() != jx.Array {
					return d.Skip()
				}
				return d.Arr(func(d *jx.Decoder) error {
					var a Activity
					err := d.Obj(func(d *jx.Decoder, key string) error {
						var err error
						switch key {
						case "date":
							a.Date, err = scalar(d)
						case "activity":
							a.Status, err = scalar(d)
						case "location":
							a.Location, err = scalar(d)
						default:
							return d.Skip()
						}
						return err
					})
					t.Activities = append(t.Activities, a)
					return err
				})
			default:
				return d.Skip()
			}
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode tracking")
	}
	return &t, nil
}

// Cancel cancels carrier orders by their ids.
func (c *Client) Cancel(ctx context.Context, orderIDs ...string) error {
	var e jx.Encoder
	var encErr error
	e.Obj(func(e *jx.Encoder) {
		e.Field("ids", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range orderIDs {
					n, err := strconv.ParseInt(id, 10, 64)
					if err != nil {
						encErr = errors.Wrapf(err, "order id %q", id)
						return
					}
					e.Int64(n)
				}
			})
		})
	})
	if encErr != nil {
		return encErr
	}
	_, err := c.authorized(ctx, http.MethodPost, "/orders/cancel", e.Bytes())
	return err
}

// authorized sends a request with the cached bearer token. A 401 drops the
// token and retries once with a fresh login.
func (c *Client) authorized(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		status, body, err := c.send(ctx, method, path, token, payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			if err := c.tokens.Invalidate(ctx, token); err != nil {
				return nil, errors.Wrap(err, "invalidate token")
			}
			continue
		}
		if status/100 != 2 {
			return nil, decodeError(status, body)
		}
		return body, nil
	}
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte) (int, []byte, error) {
	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s", method, path)
	}
	data, err := httpclient.ReadBody(resp)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "message" || d.Next() != jx.String {
			return d.Skip()
		}
		msg, err := d.Str()
		if err == nil && msg != "" {
			apiErr.Message = msg
		}
		return err
	})
	return apiErr
}

// scalar reads a string, number or null as a string.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", "-"
	}
	if len(parts) == 1 {
		return parts[0], "-"
	}
	return parts[0], strings.Join(parts[1:], " ")
}

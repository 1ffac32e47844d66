package shiprocket

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/nopego-checkout/internal/tokencache"
)

// fakeCarrier is a minimal in-process Shiprocket.
type fakeCarrier struct {
	logins   atomic.Int32
	revoked  atomic.Bool
	lastBody []byte
	mux      *http.ServeMux
}

func newFakeCarrier(t *testing.T) (*fakeCarrier, *httptest.Server) {
	t.Helper()
	f := &fakeCarrier{mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := f.logins.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"email":"ops@nopego.in"`)
		_, _ = io.WriteString(w, `{"token":"tok-`+string(rune('0'+n))+`","company_id":1}`)
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || (f.revoked.Load() && auth == "Bearer tok-1") {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"message":"Token has expired","status_code":401}`)
				return
			}
			h(w, r)
		}
	}
	f.mux.HandleFunc("POST /orders/create/adhoc", authed(func(w http.ResponseWriter, r *http.Request) {
		f.lastBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"order_id":281248157,"shipment_id":280640052,"status":"NEW","status_code":1,"awb_code":"","courier_name":""}`)
	}))
	f.mux.HandleFunc("GET /courier/track/awb/{awb}", authed(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AWB123", r.PathValue("awb"))
		_, _ = io.WriteString(w, `{"tracking_data":{"track_status":1,"shipment_status":6,
			"shipment_track":[{"id":1,"awb_code":"AWB123","current_status":"In Transit"}],
			"shipment_track_activities":[
				{"date":"2026-03-02 10:00:00","status":"X","activity":"Picked up","location":"Mumbai"},
				{"date":"2026-03-03 09:30:00","status":"X","activity":"In transit","location":"Pune"}
			]}}`)
	}))
	f.mux.HandleFunc("POST /orders/cancel", authed(func(w http.ResponseWriter, r *http.Request) {
		f.lastBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"status_code":200,"message":"Order cancelled successfully."}`)
	}))

	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		Email:    "ops@nopego.in",
		Password: "secret",
		BaseURL:  srv.URL,
	}, tokencache.NewMemory(), srv.Client())
	require.NoError(t, err)
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Email: "ops@nopego.in"}, tokencache.NewMemory(), nil)
	require.Error(t, err)
}

func TestClient_CreateShipment(t *testing.T) {
	f, srv := newFakeCarrier(t)
	c := newTestClient(t, srv)

	s, err := c.CreateShipment(t.Context(), ShipmentRequest{
		OrderNumber:  "NPG-2026-0A1B2C3D",
		OrderDate:    time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
		CustomerName: "Asha Rao Kulkarni",
		Email:        "asha@example.com",
		Phone:        "9876543210",
		AddressLine1: "12 MG Road",
		AddressLine2: "Flat 4B",
		City:         "Bengaluru",
		State:        "Karnataka",
		Pincode:      "560001",
		Items: []Item{
			{Name: "Stride Runner", SKU: "STR-9-BLK", Units: 2, SellingPrice: decimal.NewFromInt(1499)},
		},
		CashOnDelivery: true,
		SubTotal:       decimal.NewFromInt(2998),
	})
	require.NoError(t, err)
	assert.Equal(t, "281248157", s.OrderID)
	assert.Equal(t, "280640052", s.ShipmentID)
	assert.Equal(t, "NEW", s.Status)

	fields := map[string]string{}
	require.NoError(t, jx.DecodeBytes(f.lastBody).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		fields[key] = raw.String()
		return err
	}))
	assert.Equal(t, `"NPG-2026-0A1B2C3D"`, fields["order_id"])
	assert.Equal(t, `"2026-03-01"`, fields["order_date"])
	assert.Equal(t, `"Primary"`, fields["pickup_location"])
	assert.Equal(t, `"Asha"`, fields["billing_customer_name"])
	assert.Equal(t, `"Rao Kulkarni"`, fields["billing_last_name"])
	assert.Equal(t, `"12 MG Road, Flat 4B"`, fields["billing_address"])
	assert.Equal(t, `"COD"`, fields["payment_method"])
	assert.Equal(t, `2998`, fields["sub_total"])
	assert.Equal(t, `0.8`, fields["weight"])
	assert.JSONEq(t, `[{"name":"Stride Runner","sku":"STR-9-BLK","units":2,"selling_price":1499}]`, fields["order_items"])
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestClient_ReloginOnUnauthorized(t *testing.T) {
	f, srv := newFakeCarrier(t)
	c := newTestClient(t, srv)

	_, err := c.Track(t.Context(), "AWB123")
	require.NoError(t, err)
	require.Equal(t, int32(1), f.logins.Load())

	f.revoked.Store(true)
	tr, err := c.Track(t.Context(), "AWB123")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.logins.Load())
	assert.Equal(t, "In Transit", tr.Status)
	require.Len(t, tr.Activities, 2)
	assert.Equal(t, Activity{Date: "2026-03-02 10:00:00", Status: "Picked up", Location: "Mumbai"}, tr.Activities[0])
}

func TestClient_Cancel(t *testing.T) {
	f, srv := newFakeCarrier(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.Cancel(t.Context(), "281248157"))
	assert.JSONEq(t, `{"ids":[281248157]}`, string(f.lastBody))

	require.Error(t, c.Cancel(t.Context(), "not-a-number"))
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			_, _ = io.WriteString(w, `{"token":"tok"}`)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Oops! Invalid Pincode."}`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv)

	_, err := c.CreateShipment(t.Context(), ShipmentRequest{OrderNumber: "NPG-1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "Oops! Invalid Pincode.", apiErr.Message)
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"Asha", "Asha", "-"},
		{"Asha Rao", "Asha", "Rao"},
		{"  Asha   Rao  K ", "Asha", "Rao K"},
		{"", "", "-"},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}

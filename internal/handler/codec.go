package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxRequestBody = 64 << 10

// errBadJSON marks malformed request bodies.
var errBadJSON = errors.New("malformed JSON body")

// decodeObject reads a JSON object body and calls field for every key.
func decodeObject(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return errors.Wrap(errBadJSON, err.Error())
	}
	if len(body) > maxRequestBody {
		return errors.Wrap(errBadJSON, "body too large")
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return errors.Wrap(errBadJSON, "expected object")
	}
	if err := d.Obj(field); err != nil {
		return errors.Wrap(errBadJSON, err.Error())
	}
	return nil
}

// optStr reads a string, treating null as empty.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// optBool reads a bool, treating null as false.
func optBool(d *jx.Decoder) (bool, error) {
	if d.Next() == jx.Null {
		return false, d.Null()
	}
	return d.Bool()
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		raw, err := d.Raw()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(raw))
	default:
		return decimal.Zero, errors.New("expected number")
	}
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.String()))
}

// writeJSON writes a JSON body built by fn.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes the {"code","message"} error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

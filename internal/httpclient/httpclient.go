// Package httpclient builds the instrumented HTTP clients used by outbound
// adapters.
package httpclient

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MaxBodySize caps how much of a response body adapters read.
const MaxBodySize = 1 << 20

// New returns a client with the given timeout whose transport records spans
// and metrics for every request.
func New(timeout time.Duration, opts ...otelhttp.Option) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
	}
}

// ReadBody reads and closes the response body up to MaxBodySize.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// Package network issues single-shot HTTP requests against the TalkShopLive
// backend and classifies failures into sdkerr kinds.
//
// The gateway never retries. Retry and backoff policy belongs to the caller.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/version"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"resty.dev/v3"
)

const (
	// defaultHTTPTimeout is the per-request timeout used by the gateway.
	defaultHTTPTimeout = 15 * time.Second
	// maxErrorBody bounds how much of a failed response body is kept in the
	// returned error.
	maxErrorBody = 512
)

// Options configures a Gateway.
type Options struct {
	// Timeout bounds a single request. Zero selects the default.
	Timeout time.Duration
	// Strict rejects trailing data after the JSON value and logs fields the
	// target type does not declare. Enabled in debug mode.
	Strict bool
	// Headers are sent with every request.
	Headers map[string]string
}

// Request describes one HTTP call.
type Request struct {
	// Op names the SDK operation for error annotation.
	Op      string
	Method  string
	URL     string
	Headers map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
}

// Gateway performs HTTP requests. It is safe for concurrent use.
type Gateway struct {
	client *resty.Client
	strict bool
}

// New returns a Gateway.
func New(opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}
	return &Gateway{client: client, strict: opts.Strict}
}

// Close releases idle connections.
func (g *Gateway) Close() error {
	return g.client.Close()
}

// Do executes req once and returns the raw response body for 2xx responses.
func (g *Gateway) Do(ctx context.Context, req Request) ([]byte, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	r := g.client.R().SetContext(ctx)
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	logger.Tracef("http %s %s op=%s", req.Method, req.URL, req.Op)
	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, sdkerr.Wrap(sdkerr.ErrNetwork, req.Op, ctxErr)
		}
		return nil, sdkerr.Wrap(sdkerr.ErrNetwork, req.Op, err)
	}

	body := resp.Bytes()
	status := resp.StatusCode()
	logger.Tracef("http %s %s op=%s status=%d bytes=%d", req.Method, req.URL, req.Op, status, len(body))
	if status < 200 || status >= 300 {
		return nil, sdkerr.Status(req.Op, status, truncate(body))
	}
	return body, nil
}

// Send executes req once and decodes the JSON response into T.
func Send[T any](ctx context.Context, g *Gateway, req Request) (T, error) {
	var out T
	body, err := g.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if err := g.decode(body, &out); err != nil {
		return out, sdkerr.Wrap(sdkerr.ErrDecoding, req.Op, err)
	}
	return out, nil
}

func (g *Gateway) decode(body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("empty response body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	if !g.strict {
		return nil
	}
	if dec.More() {
		return fmt.Errorf("decode %T: trailing data after JSON value", out)
	}
	if err := unknownFields(body, out); err != nil {
		logger.Debugf("http: response carries fields the SDK does not model: %v", err)
	}
	return nil
}

// unknownFields decodes body again into a fresh value of out's type,
// rejecting fields the type does not declare.
func unknownFields(body []byte, out any) error {
	t := reflect.TypeOf(out)
	if t == nil || t.Kind() != reflect.Pointer {
		return nil
	}
	fresh := reflect.New(t.Elem()).Interface()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(fresh)
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

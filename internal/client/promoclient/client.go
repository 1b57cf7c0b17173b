// Package promoclient implements the order service's promo gateway over the
// promo-server HTTP API.
package promoclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/quickbite/internal/apperr"
	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/remote"
	"github.com/xenking/quickbite/internal/wire"
)

const basePath = "/api/v1/promocodes"

// Client calls promo-server. It implements order.PromoGateway.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	policy remote.Policy
}

// Option configures a Client.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	tp        trace.TracerProvider
}

// WithTransport replaces the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTracerProvider sets the tracer provider of the client transport.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// New creates a client for the promo-server at baseURL authenticating with
// apiKey.
func New(baseURL, apiKey string, policy remote.Policy, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse promo-server url")
	}
	o := options{transport: http.DefaultTransport}
	for _, fn := range opts {
		fn(&o)
	}

	var tOpts []otelhttp.Option
	if o.tp != nil {
		tOpts = append(tOpts, otelhttp.WithTracerProvider(o.tp))
	}
	return &Client{
		base:   u,
		apiKey: apiKey,
		http:   &http.Client{Transport: otelhttp.NewTransport(o.transport, tOpts...)},
		policy: policy,
	}, nil
}

// Validate prices a request and returns a reservation token.
func (c *Client) Validate(ctx context.Context, req promo.Request) (*promo.Quote, error) {
	var q *promo.Quote
	err := c.call(ctx, "promo validate", http.MethodPost, basePath+"/validate",
		func(e *jx.Encoder) { wire.EncodeRedeemRequest(e, promo.RedeemRequest{Request: req}) },
		func(d *jx.Decoder) (err error) {
			q, err = wire.DecodeQuote(d)
			return err
		},
	)
	return q, err
}

// Redeem finalizes a redemption. Retries are safe: promo-server is
// idempotent by order id.
func (c *Client) Redeem(ctx context.Context, req promo.RedeemRequest) (*promo.Quote, error) {
	var q *promo.Quote
	err := c.call(ctx, "promo redeem", http.MethodPost, basePath+"/redeem",
		func(e *jx.Encoder) { wire.EncodeRedeemRequest(e, req) },
		func(d *jx.Decoder) (err error) {
			q, err = wire.DecodeQuote(d)
			return err
		},
	)
	return q, err
}

// Reverse undoes the redemption of orderID.
func (c *Client) Reverse(ctx context.Context, code string, orderID int64) error {
	return c.call(ctx, "promo reverse", http.MethodPost, basePath+"/reverse",
		wire.ReverseRequest{Code: code, OrderID: orderID}.Encode,
		nil,
	)
}

// Release drops an unused reservation token.
func (c *Client) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return c.call(ctx, "promo release", http.MethodDelete, basePath+"/reservations/"+url.PathEscape(token), nil, nil)
}

// Ping checks that promo-server answers its liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("/livez").String(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("promo-server livez: status %d", resp.StatusCode)
	}
	return nil
}

// call performs one logical request under the retry policy. Domain errors
// returned by promo-server are rebuilt and returned as is; every other
// failure is wrapped as an integration failure.
func (c *Client) call(
	ctx context.Context,
	op, method, path string,
	body func(*jx.Encoder),
	out func(*jx.Decoder) error,
) error {
	var payload []byte
	if body != nil {
		e := jx.GetEncoder()
		body(e)
		payload = bytes.Clone(e.Bytes())
		jx.PutEncoder(e)
	}

	err := remote.Do(ctx, op, c.policy, func(ctx context.Context) error {
		return c.attempt(ctx, method, path, payload, out)
	})
	if err == nil {
		return nil
	}
	if e, ok := apperr.As(err); ok && e.Kind != apperr.KindIntegration {
		return err
	}
	return apperr.Integration(op, err)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out func(*jx.Decoder) error) error {
	var rd io.Reader = http.NoBody
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), rd)
	if err != nil {
		return remote.Permanent(err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode >= 500:
		return errors.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return remote.Permanent(errors.Errorf("credentials rejected: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return remote.Permanent(decodeError(resp.StatusCode, data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := out(jx.DecodeBytes(data)); err != nil {
		return remote.Permanent(errors.Wrap(err, "malformed response"))
	}
	return nil
}

// decodeError rebuilds the domain error named by the response code.
func decodeError(status int, data []byte) error {
	var body wire.ErrorBody
	if err := body.Decode(jx.DecodeBytes(data)); err != nil || body.Code == "" {
		return errors.Errorf("status %d with malformed error body", status)
	}
	if sentinel, ok := apperr.Lookup(body.Code); ok {
		return sentinel.WithMessage(body.Message)
	}
	return &apperr.Error{
		Kind:    kindOf(status),
		Code:    body.Code,
		Message: body.Message,
		Fields:  body.Fields,
	}
}

func kindOf(status int) apperr.Kind {
	switch status {
	case http.StatusBadRequest:
		return apperr.KindValidation
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	default:
		return apperr.KindInternal
	}
}

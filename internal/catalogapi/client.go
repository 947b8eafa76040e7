// Package catalogapi is the HTTP client of the external product catalog
// service.
package catalogapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/shopnow/internal/domain/catalog"
)

// DefaultBaseURL is the public catalog service.
const DefaultBaseURL = "https://api.escuelajs.co/api/v1/"

// maxBody caps the size of a response body.
const maxBody = 8 << 20

// StatusError is returned for non-2xx upstream responses other than 404.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return "catalog " + e.Path + ": unexpected status " + strconv.Itoa(e.Code)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds a single upstream request.
	Timeout time.Duration
	// Transport defaults to http.DefaultTransport. It is wrapped with otelhttp.
	Transport http.RoundTripper
	// MaxFailures is the number of consecutive failures that open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout    time.Duration
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
}

// Client implements catalog.Source over HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
	tracer trace.Tracer
	lg     *zap.Logger
}

var _ catalog.Source = (*Client)(nil)

// New creates a catalog client.
func New(opts Options, lg *zap.Logger) (*Client, error) {
	opts.setDefaults()

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base url %q is not absolute", opts.BaseURL)
	}
	// ResolveReference drops the last path segment unless it ends with a slash.
	if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
	}

	c := &Client{
		base: base,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: otelhttp.NewTransport(opts.Transport,
				otelhttp.WithTracerProvider(opts.TracerProvider),
			),
		},
		tracer: opts.TracerProvider.Tracer("shopnow/catalogapi"),
		lg:     lg,
	}
	maxFailures := opts.MaxFailures
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "catalog",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, catalog.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return c, nil
}

// Products executes a listing request.
func (c *Client) Products(ctx context.Context, req catalog.Request) ([]catalog.Product, error) {
	body, err := c.get(ctx, req.Path(), req.Params)
	if err != nil {
		return nil, err
	}
	products, err := decodeProducts(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return products, nil
}

// Product returns one product, or catalog.ErrNotFound.
func (c *Client) Product(ctx context.Context, id int64) (*catalog.Product, error) {
	body, err := c.get(ctx, "products/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}
	p, err := decodeProduct(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode product")
	}
	return &p, nil
}

// Categories returns every category.
func (c *Client) Categories(ctx context.Context) ([]catalog.Category, error) {
	body, err := c.get(ctx, "categories", nil)
	if err != nil {
		return nil, err
	}
	categories, err := decodeCategories(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode categories")
	}
	return categories, nil
}

// Ping checks that the catalog service answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "categories", url.Values{"limit": {"1"}})
	return err
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("catalog.path", path)),
	)
	defer span.End()

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, path, query)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrapf(err, "get %s", path)
	}
	span.SetAttributes(attribute.Int("catalog.response_size", len(body)))
	return body, nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	rel := &url.URL{Path: path, RawQuery: query.Encode()}
	u := c.base.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, catalog.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest && isProductPath(path):
		// The catalog answers 400 for unknown product ids.
		return nil, catalog.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Path: path}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

func isProductPath(path string) bool {
	return strings.HasPrefix(path, "products/")
}

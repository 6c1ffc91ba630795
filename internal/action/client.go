// Package action sends named server actions to a Fern page endpoint.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/Olympe-Studio/ferndev/internal/fault"
)

const (
	// DefaultTimeout bounds a call when no timeout is configured.
	DefaultTimeout = 30 * time.Second
	// MarkerHeader tells the server router that a request is an action call.
	MarkerHeader = "X-Fern-Action"
	// NonceHeader is where the server publishes the page nonce.
	NonceHeader = "X-Fern-Nonce"

	nonceField            = "_nonce"
	defaultFailureMessage = "Request failed"
	acceptHeader          = "application/json, text/plain, */*"
)

var errCallTimeout = errors.New("action: call timed out")

// Caller is the contract the cart facade needs from the transport.
type Caller interface {
	Call(ctx context.Context, name string, args any, nonce string, opts ...CallOption) Result
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger used for warnings and call traces.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// CallOption tunes a single call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout  time.Duration
	endpoint string
	header   http.Header
}

// Timeout overrides the timeout for one call. Non-positive values are ignored.
func Timeout(d time.Duration) CallOption {
	return func(cfg *callConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// Endpoint posts the call to target, resolved against the page URL, instead
// of the page itself. The target must share the page origin.
func Endpoint(target string) CallOption {
	return func(cfg *callConfig) {
		cfg.endpoint = target
	}
}

// Header adds a request header to one call.
func Header(key, value string) CallOption {
	return func(cfg *callConfig) {
		if cfg.header == nil {
			cfg.header = make(http.Header)
		}
		cfg.header.Add(key, value)
	}
}

// Client posts action calls to the page it was created for.
type Client struct {
	page    *url.URL
	http    *http.Client
	logger  *zap.Logger
	timeout time.Duration
	metrics *callMetrics
}

// NewClient constructs a Client bound to pageURL. An empty pageURL yields a
// client without a page context; every call on it fails with
// fault.KindNoBrowserContext.
func NewClient(pageURL string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
	}
	if raw := strings.TrimSpace(pageURL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("action: invalid page URL: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("action: page URL %q must be absolute", raw)
		}
		parsed.Fragment = ""
		c.page = parsed
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("action: cookie jar: %w", err)
		}
		c.http = &http.Client{Jar: jar}
	}
	c.metrics = newCallMetrics(c.logger)
	return c, nil
}

// PageURL returns a copy of the page URL, or nil without a page context.
func (c *Client) PageURL() *url.URL {
	if c == nil || c.page == nil {
		return nil
	}
	u := *c.page
	return &u
}

// Call sends action name with args and nonce. It never panics and never
// returns a Go error: every failure is reported in the Result.
//
// args is either a *Form, for multipart payloads, or an object-like value
// (map or struct). Other values are replaced by an empty object.
func (c *Client) Call(ctx context.Context, name string, args any, nonce string, opts ...CallOption) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := callConfig{timeout: DefaultTimeout}
	if c != nil && c.timeout > 0 {
		cfg.timeout = c.timeout
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := startSpan(ctx, name)
	defer span.End()

	started := time.Now()
	res := c.call(ctx, name, args, nonce, cfg)

	if c != nil {
		c.metrics.record(ctx, name, res)
		c.logger.Debug("action call finished",
			zap.String("action", name),
			zap.String("status", string(res.Status)),
			zap.Duration("duration", time.Since(started)),
		)
	}
	endSpan(span, name, res)
	return res
}

func (c *Client) call(ctx context.Context, name string, args any, nonce string, cfg callConfig) Result {
	if c == nil || c.page == nil {
		return failure(fault.New(fault.KindNoBrowserContext, http.StatusBadRequest, "action calls require a page context"))
	}

	target, err := c.resolve(cfg.endpoint)
	if err != nil {
		return failure(&fault.Error{Kind: fault.KindCrossOrigin, Status: http.StatusForbidden, Message: "invalid action endpoint", Err: err})
	}
	if !sameOrigin(c.page, target) {
		c.logger.Warn("blocked cross-origin action call",
			zap.String("action", name),
			zap.String("origin", origin(c.page)),
			zap.String("target", origin(target)),
		)
		return failure(fault.New(fault.KindCrossOrigin, http.StatusForbidden, "cross-origin action calls are blocked"))
	}
	if strings.TrimSpace(name) == "" {
		return failure(fault.New(fault.KindPrecondition, http.StatusBadRequest, "action name is required"))
	}

	body, contentType, err := c.encode(name, args, nonce)
	if err != nil {
		return c.transportFailure(ctx, cfg, err)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, cfg.timeout, errCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return c.transportFailure(ctx, cfg, err)
	}
	for k, values := range cfg.header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set(MarkerHeader, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportFailure(ctx, cfg, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return c.transportFailure(ctx, cfg, fault.New(fault.KindHTTP, resp.StatusCode, fmt.Sprintf("HTTP error %d", resp.StatusCode)))
	}

	data, err := decodeBody(resp)
	if err != nil {
		return c.transportFailure(ctx, cfg, err)
	}
	return success(data)
}

// transportFailure maps an error raised while sending or reading a call.
func (c *Client) transportFailure(ctx context.Context, cfg callConfig, err error) Result {
	if errors.Is(context.Cause(ctx), errCallTimeout) {
		return failure(&fault.Error{
			Kind:    fault.KindTimeout,
			Status:  http.StatusRequestTimeout,
			Message: fmt.Sprintf("Request timeout after %dms", cfg.timeout.Milliseconds()),
			Err:     errCallTimeout,
		})
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		return failure(fe)
	}

	msg := defaultFailureMessage
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		msg = err.Error()
	}
	return failure(&fault.Error{Kind: fault.KindNetwork, Status: fault.StatusOf(err), Message: msg, Err: err})
}

func (c *Client) resolve(endpoint string) (*url.URL, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return c.PageURL(), nil
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	target := c.page.ResolveReference(ref)
	target.Fragment = ""
	return target, nil
}

func (c *Client) encode(name string, args any, nonce string) (io.Reader, string, error) {
	switch form := args.(type) {
	case *Form:
		if form == nil {
			break
		}
		return form.encode(name, nonce)
	case Form:
		return form.encode(name, nonce)
	}

	fields, ok := objectArgs(args)
	if !ok {
		c.logger.Warn("action args must be an object; sending empty args",
			zap.String("action", name),
			zap.String("type", fmt.Sprintf("%T", args)),
		)
		fields = map[string]any{}
	}

	withNonce := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		withNonce[k] = v
	}
	withNonce[nonceField] = nonce

	payload, err := json.Marshal(map[string]any{
		"action":   name,
		"args":     withNonce,
		nonceField: nonce,
	})
	if err != nil {
		return nil, "", fmt.Errorf("encode action args: %w", err)
	}
	return bytes.NewReader(payload), "application/json", nil
}

// objectArgs reports args as a flat mapping when it is object-like.
func objectArgs(args any) (map[string]any, bool) {
	switch v := args.(type) {
	case nil:
		return map[string]any{}, true
	case map[string]any:
		if v == nil {
			return map[string]any{}, true
		}
		return v, true
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, true
	}

	rv := reflect.ValueOf(args)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return map[string]any{}, true
		}
		rv = rv.Elem()
	}
	switch {
	case rv.Kind() == reflect.Struct:
	case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
	default:
		return nil, false
	}

	raw, err := json.Marshal(rv.Interface())
	if err != nil {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

func decodeBody(resp *http.Response) (any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return string(raw), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode JSON response: %w", err)
	}
	return data, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"

	"github.com/technovacao/registration/internal/pkg/config"
)

var ErrNotConfigured = errors.New("MERCADOPAGO_ACCESS_TOKEN is not configured")

// APIError is a non-2xx answer from the provider. Message carries the
// provider's own explanation when it sent one.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mercadopago: status=%d message=%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mercadopago: status=%d body=%s", e.StatusCode, e.Body)
}

// Client wraps the official SDK clients. Requests and responses cross the
// boundary as this package's types so callers never import the SDK.
type Client struct {
	preferences preference.Client
	payments    payment.Client
	configured  bool
	initErr     error
}

func NewClient(cfg config.MercadoPago) *Client {
	return newClient(cfg.AccessToken, cfg.APIBaseURL, &http.Client{Timeout: cfg.Timeout})
}

func newClient(accessToken, apiBaseURL string, hc *http.Client) *Client {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return &Client{}
	}
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}

	rt := &requester{http: hc}
	if base, err := url.Parse(strings.TrimRight(apiBaseURL, "/")); err == nil && base.Host != "" {
		rt.base = base
	}

	sdkCfg, err := mpconfig.New(token, mpconfig.WithHTTPClient(rt))
	if err != nil {
		return &Client{initErr: err}
	}
	return &Client{
		preferences: preference.NewClient(sdkCfg),
		payments:    payment.NewClient(sdkCfg),
		configured:  true,
	}
}

func (c *Client) ready() error {
	if c.initErr != nil {
		return c.initErr
	}
	if !c.configured {
		return ErrNotConfigured
	}
	return nil
}

func (c *Client) CreatePreference(ctx context.Context, in PreferenceRequest) (*Preference, error) {
	if len(in.Items) == 0 {
		return nil, errors.New("preference requires at least one item")
	}
	if err := c.ready(); err != nil {
		return nil, err
	}

	var req preference.Request
	if err := convert(in, &req); err != nil {
		return nil, err
	}
	var out Preference
	err := call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.preferences.Create(ctx, req)
	}, &out)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("mercadopago: preference response without id")
	}
	return &out, nil
}

// CreatePayment charges directly. idempotencyKey makes retries of the same
// attempt collapse into one payment on the provider side.
func (c *Client) CreatePayment(ctx context.Context, in PaymentRequest, idempotencyKey string) (*Payment, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var req payment.Request
	if err := convert(in, &req); err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		ctx = context.WithValue(ctx, idempotencyKeyCtx{}, idempotencyKey)
	}
	var out Payment
	err := call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.payments.Create(ctx, req)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("payment id is required")
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid payment id %q", id)
	}

	var out Payment
	err = call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.payments.Get(ctx, n)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchByExternalReference lists payments created for one checkout, newest first.
func (c *Client) SearchByExternalReference(ctx context.Context, ref string) ([]Payment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("external reference is required")
	}
	if err := c.ready(); err != nil {
		return nil, err
	}

	req := payment.SearchRequest{
		Filters: map[string]string{
			"external_reference": ref,
			"sort":               "date_created",
			"criteria":           "desc",
		},
	}
	var out SearchResult
	err := call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.payments.Search(ctx, req)
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// call runs one SDK operation and decodes its result into out. A non-2xx
// answer seen by the requester is surfaced as *APIError.
func call(ctx context.Context, fn func(context.Context) (interface{}, error), out interface{}) error {
	tr := &trace{}
	res, err := fn(context.WithValue(ctx, traceCtx{}, tr))
	if tr.status != 0 {
		return tr.apiError()
	}
	if err != nil {
		return err
	}
	return convert(res, out)
}

// convert moves a value between the local and SDK types. Both sides use the
// provider's wire names, so the JSON form is the shared contract.
func convert(src, dst interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

type idempotencyKeyCtx struct{}

type traceCtx struct{}

type trace struct {
	status int
	body   []byte
}

func (t *trace) apiError() *APIError {
	apiErr := &APIError{StatusCode: t.status, Body: string(t.body)}
	var detail struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(t.body, &detail) == nil {
		apiErr.Message = detail.Message
		if apiErr.Message == "" {
			apiErr.Message = detail.Error
		}
	}
	return apiErr
}

// requester is handed to the SDK as its HTTP client. It points requests at
// base when set, applies the caller's idempotency key and records failed
// answers for call.
type requester struct {
	http *http.Client
	base *url.URL
}

func (r *requester) Do(req *http.Request) (*http.Response, error) {
	if r.base != nil {
		req.URL.Scheme = r.base.Scheme
		req.URL.Host = r.base.Host
		req.URL.Path = strings.TrimRight(r.base.Path, "/") + req.URL.Path
		req.Host = r.base.Host
	}
	if key, ok := req.Context().Value(idempotencyKeyCtx{}).(string); ok && key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		if tr, ok := req.Context().Value(traceCtx{}).(*trace); ok {
			tr.status = resp.StatusCode
			tr.body = raw
		}
	}
	return resp, nil
}

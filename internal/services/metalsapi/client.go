package metalsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
)

// ErrUpstreamUnavailable is matched by every FetchError.
var ErrUpstreamUnavailable = errors.New("upstream price source unavailable")

// FailureReason 上游失败原因
type FailureReason string

const (
	ReasonTransport   FailureReason = "transport"
	ReasonStatus      FailureReason = "status"
	ReasonMalformed   FailureReason = "malformed"
	ReasonMissingRate FailureReason = "missing_rate"
)

// FetchError describes why a rate could not be obtained. It never carries
// the request URL, which contains the access key.
type FetchError struct {
	Symbol string
	Reason FailureReason
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Symbol, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// Result is either a rate (Err == nil) or a failure.
type Result struct {
	Symbol string
	Rate   float64
	Err    *FetchError
}

func (r Result) OK() bool { return r.Err == nil }

func failed(symbol string, reason FailureReason, err error) Result {
	return Result{Symbol: symbol, Err: &FetchError{Symbol: symbol, Reason: reason, Err: err}}
}

type apiError struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

// latestResponse is the `{success, rates}` payload of the latest endpoint.
type latestResponse struct {
	Success bool               `json:"success" validate:"eq=true"`
	Base    string             `json:"base"`
	Rates   map[string]float64 `json:"rates" validate:"required,min=1,dive,gt=0"`
	Error   *apiError          `json:"error,omitempty"`
}

// Client 行情API客户端
type Client struct {
	apiKey   string
	client   *resty.Client
	validate *validator.Validate
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{
		apiKey:   apiKey,
		client:   client,
		validate: validator.New(),
	}
}

// Configured reports whether an access key is set.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Latest fetches the latest USD-based rate for one symbol. It performs a
// single attempt.
func (c *Client) Latest(ctx context.Context, symbol string) Result {
	symbol = strings.ToUpper(symbol)

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_key": c.apiKey,
			"base":       "USD",
			"symbols":    symbol,
		}).
		Get("/latest")
	if err != nil {
		return failed(symbol, ReasonTransport, redact(err))
	}
	if !resp.IsSuccess() {
		return failed(symbol, ReasonStatus, fmt.Errorf("HTTP %d", resp.StatusCode()))
	}

	var payload latestResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return failed(symbol, ReasonMalformed, err)
	}
	if !payload.Success && payload.Error != nil {
		return failed(symbol, ReasonStatus, fmt.Errorf("api error %d: %s", payload.Error.Code, payload.Error.Type))
	}
	if err := c.validate.Struct(payload); err != nil {
		return failed(symbol, ReasonMalformed, err)
	}

	rate, ok := payload.Rates[symbol]
	if !ok {
		return failed(symbol, ReasonMissingRate, nil)
	}
	return Result{Symbol: symbol, Rate: rate}
}

// redact strips the request URL (and with it the access key) from transport
// errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// Package provider calls the external action provider that backs
// third-party actions.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rendis/stepflow/pkg/schema"
)

// Call is one provider-backed action invocation.
type Call struct {
	ExternalUserID string         `json:"externalUserId"`
	ActionKey      string         `json:"actionKey"`
	Props          map[string]any `json:"configuredProps"`
}

// Response is the provider's uniform reply.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorData any    `json:"errorData,omitempty"`
}

// Provider runs provider-backed actions. A returned error means the call
// could not be made; an unsuccessful action is reported in Response.
type Provider interface {
	Run(ctx context.Context, call Call) (Response, error)
}

// Func adapts a function to the Provider interface.
type Func func(ctx context.Context, call Call) (Response, error)

// Run calls f.
func (f Func) Run(ctx context.Context, call Call) (Response, error) { return f(ctx, call) }

// Config holds the HTTP provider settings.
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPProvider posts calls to the provider's run endpoint. Calls are not
// retried.
type HTTPProvider struct {
	client *resty.Client
}

// NewHTTPProvider creates an HTTPProvider for cfg.
func NewHTTPProvider(cfg Config) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, schema.NewError(schema.ErrValidation, "provider base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &HTTPProvider{client: client}, nil
}

// Run posts call to /actions/run.
func (p *HTTPProvider) Run(ctx context.Context, call Call) (Response, error) {
	var result, errorResponse Response

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(call).
		SetResult(&result).
		SetError(&errorResponse).
		Post("/actions/run")
	if err != nil {
		return Response{}, schema.NewErrorf(schema.ErrProvider, "provider request failed: %s", err.Error()).WithCause(err)
	}

	if resp.IsError() {
		msg := errorResponse.Error
		if msg == "" {
			msg = fmt.Sprintf("provider returned %s", resp.Status())
		}
		return Response{
			Success:   false,
			Error:     msg,
			ErrorData: errorResponse.ErrorData,
		}, nil
	}
	return result, nil
}

var _ Provider = (*HTTPProvider)(nil)

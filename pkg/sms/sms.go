// Package sms sends text messages through an HTTP SMS provider.
package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sender dispatches a single SMS. Delivery is not guaranteed beyond the
// provider's acknowledgement.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// HTTPGateway implements Sender against a form-POST provider API.
type HTTPGateway struct {
	endpoint   string
	apiKey     string
	senderName string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPGateway creates a new HTTPGateway instance.
func NewHTTPGateway(endpoint, apiKey, senderName string, logger zerolog.Logger) *HTTPGateway {
	return &HTTPGateway{
		endpoint:   endpoint,
		apiKey:     apiKey,
		senderName: senderName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Send posts the message to the provider and treats any non-2xx response
// as a failure.
func (g *HTTPGateway) Send(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("apikey", g.apiKey)
	form.Set("number", phone)
	form.Set("message", message)
	if g.senderName != "" {
		form.Set("sendername", g.senderName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms provider returned %d: %s", resp.StatusCode, string(body))
	}

	g.logger.Info().Str("number", phone).Msg("SMS dispatched")
	return nil
}

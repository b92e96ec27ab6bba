package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	drepo "PriceAlarm/internal/domain/repository"
	xhttp "PriceAlarm/pkg/http"
	applogger "PriceAlarm/pkg/logger"

	"golang.org/x/time/rate"
)

// maxRetryAfter caps how long Send honours a 429 retry_after.
const maxRetryAfter = 5 * time.Second

// Client talks to the Telegram Bot API.
type Client struct {
	baseURL string
	token   string
	http    *xhttp.Client
	limiter *rate.Limiter
	log     *applogger.Logger
}

var _ drepo.Notifier = (*Client)(nil)

// New creates a Bot API client. ratePerSecond throttles outbound calls; zero
// disables throttling.
func New(apiURL, token string, timeout time.Duration, ratePerSecond float64, l *applogger.Logger) *Client {
	lim := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter: lim,
		log:     l,
	}
}

// Send delivers a plain text message. An empty chat id is a silent no-op.
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return nil
	}
	req := sendMessageRequest{ChatID: chatID, Text: text}

	err := c.call(ctx, "sendMessage", req)
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.wait <= maxRetryAfter {
		c.log.Warn("telegram: rate limited, retrying",
			applogger.String("chat_id", chatID),
			applogger.Duration("retry_after_ms", ra.wait),
		)
		select {
		case <-time.After(ra.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = c.call(ctx, "sendMessage", req)
	}
	return err
}

// SetWebhook registers url as the update endpoint.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{
		URL:            url,
		AllowedUpdates: []string{"message"},
	})
}

type retryAfterError struct {
	wait time.Duration
	err  error
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

func (c *Client) call(ctx context.Context, method string, body interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	var resp apiResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method),
		Body:   body,
	}, &resp)

	var se *xhttp.StatusError
	if errors.As(err, &se) {
		// the error body is still a Bot API envelope
		_ = json.Unmarshal(se.Body, &resp)
		apiErr := fmt.Errorf("telegram %s: %d %s", method, se.Code, resp.Description)
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			return &retryAfterError{wait: time.Duration(resp.Parameters.RetryAfter) * time.Second, err: apiErr}
		}
		return apiErr
	}
	if err != nil {
		// never leak the token through the request URL
		return fmt.Errorf("telegram %s: %s", method, strings.ReplaceAll(err.Error(), c.token, "***"))
	}
	if !resp.OK {
		return fmt.Errorf("telegram %s: %s", method, resp.Description)
	}
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatsync/pkg/apperr"

	"github.com/valyala/fasthttp"
)

// Webhook POSTs each notification as JSON to a fixed URL.
type Webhook struct {
	URL     string
	Client  *fasthttp.Client
	Timeout time.Duration
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		URL:     url,
		Client:  &fasthttp.Client{Name: "chatsync-notify", ReadTimeout: timeout, WriteTimeout: timeout},
		Timeout: timeout,
	}
}

func (w *Webhook) Notify(ctx context.Context, userID, eventType string, payload any) error {
	body, err := json.Marshal(newNotification(userID, eventType, payload))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := w.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	if err := w.Client.DoTimeout(req, resp, timeout); err != nil {
		return apperr.TransientIO("notify.webhook", err)
	}
	if code := resp.StatusCode(); code >= 500 {
		return apperr.TransientIO("notify.webhook", fmt.Errorf("webhook status %d", code))
	} else if code >= 300 {
		return fmt.Errorf("webhook rejected notification: status %d", code)
	}
	return nil
}

package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// History fetches every message created, edited or deleted after a sync
// revision.
type History interface {
	After(ctx context.Context, convID string, afterRev uint64, limit int) (*models.MessagePage, error)
}

// REST is a small client for the HTTP API.
type REST struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Client  *fasthttp.Client
}

func NewREST(baseURL, token string) *REST {
	return &REST{BaseURL: baseURL, Token: token, Timeout: 10 * time.Second, Client: &fasthttp.Client{}}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Do sends a JSON request and decodes the JSON response into out. Error
// bodies are mapped back onto apperr kinds.
func (r *REST) Do(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(r.BaseURL + path)
	req.Header.Set("Authorization", "Bearer "+r.Token)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		req.Header.SetContentType("application/json")
		req.SetBody(b)
	}

	timeout := r.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	if err := r.Client.DoTimeout(req, resp, timeout); err != nil {
		return apperr.Wrap(apperr.KindDisconnected, "client.rest", err, "request failed")
	}

	status := resp.StatusCode()
	if status >= 300 {
		var e apiError
		if err := json.Unmarshal(resp.Body(), &e); err != nil || e.Code == "" {
			return errors.Errorf("%s %s: unexpected status %d", method, path, status)
		}
		return apperr.New(apperr.ParseKind(e.Code), "client.rest", "%s", e.Error)
	}
	if out == nil || status == fasthttp.StatusNoContent {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(resp.Body(), out), "decode %s %s", method, path)
}

func (r *REST) After(ctx context.Context, convID string, afterRev uint64, limit int) (*models.MessagePage, error) {
	q := url.Values{}
	q.Set("after_rev", strconv.FormatUint(afterRev, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page models.MessagePage
	err := r.Do(ctx, "GET", "/v1/conversations/"+url.PathEscape(convID)+"/messages?"+q.Encode(), nil, &page)
	return &page, err
}

// Before pages backwards from cursor; an empty cursor starts at the newest.
func (r *REST) Before(ctx context.Context, convID, cursor string, limit int) (*models.MessagePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page models.MessagePage
	err := r.Do(ctx, "GET", "/v1/conversations/"+url.PathEscape(convID)+"/messages?"+q.Encode(), nil, &page)
	return &page, err
}

func (r *REST) Conversations(ctx context.Context) ([]string, error) {
	var out struct {
		Conversations []string `json:"conversations"`
	}
	err := r.Do(ctx, "GET", "/v1/conversations", nil, &out)
	return out.Conversations, err
}

func (r *REST) CreateConversation(ctx context.Context, kind models.ConversationKind, title string, participants []string) (*models.Conversation, error) {
	in := map[string]any{"kind": kind, "title": title, "participants": participants}
	var conv models.Conversation
	err := r.Do(ctx, "POST", "/v1/conversations", in, &conv)
	return &conv, err
}

package api

import (
	"encoding/json"
	"strconv"

	"chatsync/pkg/apperr"
	"chatsync/pkg/logger"

	"github.com/valyala/fasthttp"
)

// WriteJSON writes v with status.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		logger.Error("response_encode_failed", "path", string(ctx.Path()), "error", err)
	}
}

// WriteError maps err onto a status and a JSON body. Unclassified errors are
// logged and reported without their text.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	status := apperr.HTTPStatus(err)
	if status >= fasthttp.StatusInternalServerError {
		logger.Error("request_failed", "method", string(ctx.Method()), "path", string(ctx.Path()), "error", err)
	}
	WriteJSON(ctx, status, map[string]string{"error": apperr.Message(err), "code": apperr.Code(err)})
}

// decodeBody unmarshals the request body into v.
func decodeBody(ctx *fasthttp.RequestCtx, op string, v any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return apperr.Validation(op, "request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Validation(op, "invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(ctx *fasthttp.RequestCtx, op, name string) (int, error) {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(op, "invalid %s %q", name, raw)
	}
	return n, nil
}

func queryUint(ctx *fasthttp.RequestCtx, op, name string) (*uint64, error) {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, apperr.Validation(op, "invalid %s %q", name, raw)
	}
	return &v, nil
}

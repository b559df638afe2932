package api

import (
	"context"

	"chatsync/pkg/api/router"
	"chatsync/pkg/auth"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"

	"github.com/valyala/fasthttp"
)

func (h *handlers) createSession(ctx *fasthttp.RequestCtx) {
	var req wire.CreateSession
	if err := decodeBody(ctx, "api.create_session", &req); err != nil {
		WriteError(ctx, err)
		return
	}
	ls, err := h.broker.CreateSession(ctx, auth.UserFrom(ctx), req)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusCreated, ls)
}

func (h *handlers) getSession(ctx *fasthttp.RequestCtx) {
	ls, err := h.broker.GetSession(ctx, router.Param(ctx, "id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, ls)
}

func (h *handlers) startSession(ctx *fasthttp.RequestCtx) {
	h.sessionOp(ctx, h.broker.Start)
}

func (h *handlers) endSession(ctx *fasthttp.RequestCtx) {
	h.sessionOp(ctx, h.broker.End)
}

func (h *handlers) sessionOp(ctx *fasthttp.RequestCtx, fn func(ctx context.Context, actor, sid string) (*models.LiveSession, error)) {
	ls, err := fn(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, ls)
}

func (h *handlers) pendingRequests(ctx *fasthttp.RequestCtx) {
	reqs, err := h.broker.PendingRequests(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	if reqs == nil {
		reqs = []models.JoinRequest{}
	}
	WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"requests": reqs})
}

func (h *handlers) requestJoin(ctx *fasthttp.RequestCtx) {
	r, err := h.broker.RequestJoin(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, r)
}

func (h *handlers) approveRequest(ctx *fasthttp.RequestCtx) {
	h.requestOp(ctx, h.broker.Approve)
}

func (h *handlers) rejectRequest(ctx *fasthttp.RequestCtx) {
	h.requestOp(ctx, h.broker.Reject)
}

func (h *handlers) requestOp(ctx *fasthttp.RequestCtx, fn func(ctx context.Context, actor, rid string) (*models.JoinRequest, error)) {
	r, err := fn(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, r)
}

package api

import (
	"chatsync/pkg/api/router"
	"chatsync/pkg/apperr"
	"chatsync/pkg/auth"
	"chatsync/pkg/coordinator"
	"chatsync/pkg/wire"

	"github.com/valyala/fasthttp"
)

// history serves backwards paging (cursor), messages created after a seq
// (after_seq) and the change delta since a sync revision (after_rev).
func (h *handlers) history(ctx *fasthttp.RequestCtx) {
	const op = "api.history"
	limit, err := queryInt(ctx, op, "limit")
	if err != nil {
		WriteError(ctx, err)
		return
	}
	q := coordinator.HistoryQuery{
		Cursor: string(ctx.QueryArgs().Peek("cursor")),
		Limit:  limit,
	}
	if q.AfterSeq, err = queryUint(ctx, op, "after_seq"); err != nil {
		WriteError(ctx, err)
		return
	}
	if q.AfterRev, err = queryUint(ctx, op, "after_rev"); err != nil {
		WriteError(ctx, err)
		return
	}
	set := 0
	for _, on := range []bool{q.Cursor != "", q.AfterSeq != nil, q.AfterRev != nil} {
		if on {
			set++
		}
	}
	if set > 1 {
		WriteError(ctx, apperr.Validation(op, "cursor, after_seq and after_rev are exclusive"))
		return
	}
	page, err := h.coord.History(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"), q)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, page)
}

// sendMessage is the REST fallback for clients without a socket.
func (h *handlers) sendMessage(ctx *fasthttp.RequestCtx) {
	var req wire.SendMessage
	if err := decodeBody(ctx, "api.send_message", &req); err != nil {
		WriteError(ctx, err)
		return
	}
	msg, created, err := h.coord.Send(ctx, coordinator.SendRequest{
		ConversationID: router.Param(ctx, "id"),
		SenderID:       auth.UserFrom(ctx),
		Content:        req.Content,
		MediaRef:       req.MediaRef,
		ClientTempID:   req.ClientTempID,
	})
	if err != nil {
		WriteError(ctx, err)
		return
	}
	status := fasthttp.StatusCreated
	if !created {
		status = fasthttp.StatusOK
	}
	WriteJSON(ctx, status, msg)
}

func (h *handlers) markReadBatch(ctx *fasthttp.RequestCtx) {
	var req wire.MarkReadBatch
	if err := decodeBody(ctx, "api.mark_read", &req); err != nil {
		WriteError(ctx, err)
		return
	}
	if len(req.MessageIDs) == 0 {
		WriteError(ctx, apperr.Validation("api.mark_read", "message_ids is required"))
		return
	}
	results := h.coord.MarkReadBatch(ctx, req.MessageIDs, auth.UserFrom(ctx))
	WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"results": results})
}

func (h *handlers) editMessage(ctx *fasthttp.RequestCtx) {
	var req wire.EditMessage
	if err := decodeBody(ctx, "api.edit_message", &req); err != nil {
		WriteError(ctx, err)
		return
	}
	msg, err := h.coord.Edit(ctx, router.Param(ctx, "id"), auth.UserFrom(ctx), req.Content)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, msg)
}

// deleteMessage is idempotent: an already deleted or purged message is 204.
func (h *handlers) deleteMessage(ctx *fasthttp.RequestCtx) {
	if _, err := h.coord.Delete(ctx, router.Param(ctx, "id"), auth.UserFrom(ctx)); err != nil {
		WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *handlers) receipts(ctx *fasthttp.RequestCtx) {
	seen, err := h.coord.SeenBy(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, seen)
}

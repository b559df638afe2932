package api

import (
	"chatsync/pkg/api/router"
	"chatsync/pkg/auth"
	"chatsync/pkg/coordinator"
	"chatsync/pkg/models"

	"github.com/valyala/fasthttp"
)

type userRef struct {
	UserID string `json:"user_id"`
}

func (h *handlers) createConversation(ctx *fasthttp.RequestCtx) {
	var req coordinator.CreateConversation
	if err := decodeBody(ctx, "api.create_conversation", &req); err != nil {
		WriteError(ctx, err)
		return
	}
	conv, err := h.coord.CreateConversation(ctx, auth.UserFrom(ctx), req)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusCreated, conv)
}

func (h *handlers) listConversations(ctx *fasthttp.RequestCtx) {
	ids, err := h.coord.ConversationsFor(ctx, auth.UserFrom(ctx))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"conversations": ids})
}

func (h *handlers) getConversation(ctx *fasthttp.RequestCtx) {
	conv, err := h.coord.GetConversation(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, conv)
}

func (h *handlers) deleteConversation(ctx *fasthttp.RequestCtx) {
	if err := h.coord.DeleteConversation(ctx, auth.UserFrom(ctx), router.Param(ctx, "id")); err != nil {
		WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *handlers) addParticipant(ctx *fasthttp.RequestCtx) {
	var req userRef
	if err := decodeBody(ctx, "api.add_participant", &req); err != nil {
		WriteError(ctx, err)
		return
	}
	conv, err := h.coord.AddParticipant(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"), req.UserID)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, conv)
}

func (h *handlers) removeParticipant(ctx *fasthttp.RequestCtx) {
	err := h.coord.RemoveParticipant(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"), router.Param(ctx, "user"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *handlers) promoteModerator(ctx *fasthttp.RequestCtx) {
	var req userRef
	if err := decodeBody(ctx, "api.promote_moderator", &req); err != nil {
		WriteError(ctx, err)
		return
	}
	conv, err := h.coord.PromoteModerator(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"), req.UserID)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, conv)
}

func (h *handlers) updateSettings(ctx *fasthttp.RequestCtx) {
	var s models.ConversationSettings
	if err := decodeBody(ctx, "api.update_settings", &s); err != nil {
		WriteError(ctx, err)
		return
	}
	conv, err := h.coord.UpdateSettings(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"), s)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, conv)
}

func (h *handlers) ban(on bool) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		err := h.coord.Ban(ctx, auth.UserFrom(ctx), router.Param(ctx, "id"), router.Param(ctx, "user"), on)
		if err != nil {
			WriteError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}

func (h *handlers) block(on bool) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if err := h.coord.Block(ctx, auth.UserFrom(ctx), router.Param(ctx, "user"), on); err != nil {
			WriteError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}

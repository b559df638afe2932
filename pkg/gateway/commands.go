package gateway

import (
	"context"

	"chatsync/pkg/apperr"
	"chatsync/pkg/coordinator"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"
)

// Messages is the slice of the message coordinator reachable from a socket.
type Messages interface {
	Send(ctx context.Context, req coordinator.SendRequest) (*models.Message, bool, error)
	Edit(ctx context.Context, messageID, editorID, content string) (*models.Message, error)
	Delete(ctx context.Context, messageID, actorID string) (*models.Message, error)
	React(ctx context.Context, messageID, userID, emoji string) (*models.Reaction, bool, error)
	Unreact(ctx context.Context, messageID, userID, emoji string) (bool, error)
	MarkRead(ctx context.Context, messageID, userID string) (*models.ReadCursor, bool, error)
	MarkReadBatch(ctx context.Context, messageIDs []string, userID string) []wire.ReadResult
	IsParticipant(ctx context.Context, convID, userID string) (bool, error)
	JoinRoom(ctx context.Context, convID, userID string, join func()) (bool, error)
}

// Sessions is the slice of the join request broker reachable from a socket.
type Sessions interface {
	CreateSession(ctx context.Context, hostID string, req wire.CreateSession) (*models.LiveSession, error)
	Start(ctx context.Context, actor, sid string) (*models.LiveSession, error)
	End(ctx context.Context, actor, sid string) (*models.LiveSession, error)
	Leave(ctx context.Context, userID, sid string) error
	AddCoHost(ctx context.Context, actor, sid, userID string) (*models.LiveSession, error)
	RequestJoin(ctx context.Context, userID, sid string) (*models.JoinRequest, error)
	Approve(ctx context.Context, actor, rid string) (*models.JoinRequest, error)
	Reject(ctx context.Context, actor, rid string) (*models.JoinRequest, error)
	CanJoinRoom(ctx context.Context, sid, userID string) (bool, error)
}

type Typing interface {
	SetTyping(conv, userID string)
	StopTyping(conv, userID string)
}

type handlerFunc func(ctx context.Context, c *Conn, raw []byte) (any, error)

// Router decodes client commands and dispatches them. Every command is
// answered with an ack or an error frame carrying the command's ref.
type Router struct {
	hub      *Hub
	msgs     Messages
	sessions Sessions
	typing   Typing
	handlers map[string]handlerFunc
}

func NewRouter(hub *Hub, msgs Messages, sessions Sessions, typing Typing) *Router {
	r := &Router{hub: hub, msgs: msgs, sessions: sessions, typing: typing}
	r.handlers = map[string]handlerFunc{
		wire.CmdPing:           r.ping,
		wire.CmdJoinRoom:       r.joinRoom,
		wire.CmdLeaveRoom:      r.leaveRoom,
		wire.CmdSendMessage:    r.sendMessage,
		wire.CmdEditMessage:    r.editMessage,
		wire.CmdDeleteMessage:  r.deleteMessage,
		wire.CmdReact:          r.react,
		wire.CmdUnreact:        r.unreact,
		wire.CmdMarkRead:       r.markRead,
		wire.CmdMarkReadBatch:  r.markReadBatch,
		wire.CmdTyping:         r.setTyping,
		wire.CmdStopTyping:     r.stopTyping,
		wire.CmdRequestJoin:    r.requestJoin,
		wire.CmdApproveRequest: r.approve,
		wire.CmdRejectRequest:  r.reject,
		wire.CmdCreateSession:  r.createSession,
		wire.CmdStartSession:   r.startSession,
		wire.CmdEndSession:     r.endSession,
		wire.CmdLeaveSession:   r.leaveSession,
		wire.CmdAddCoHost:      r.addCoHost,
	}
	return r
}

// Handle processes one inbound frame from c.
func (r *Router) Handle(ctx context.Context, c *Conn, raw []byte) {
	h, err := wire.DecodeHeader(c.codec, raw)
	if err != nil {
		r.fail(c, "invalid", "", apperr.Validation("gateway.decode", "%v", err))
		return
	}
	fn, ok := r.handlers[h.Type]
	if !ok {
		r.fail(c, "unknown", h.Ref, apperr.Validation("gateway.route", "unknown command %q", h.Type))
		return
	}
	result, err := fn(ctx, c, raw)
	if err != nil {
		r.fail(c, h.Type, h.Ref, err)
		return
	}
	telemetry.Commands.WithLabelValues(h.Type, "ok").Inc()
	typ := wire.EvtAck
	if h.Type == wire.CmdPing {
		typ = wire.EvtPong
	}
	c.reply(typ, h.Ref, r.hub.now(), result)
}

func (r *Router) fail(c *Conn, cmd, ref string, err error) {
	code := apperr.Code(err)
	telemetry.Commands.WithLabelValues(cmd, code).Inc()
	if apperr.KindOf(err) == apperr.KindUnknown {
		logger.Error("gateway_command_failed", "cmd", cmd, "user", c.UserID, "error", err)
	} else {
		logger.Debug("gateway_command_rejected", "cmd", cmd, "user", c.UserID, "code", code, "error", err)
	}
	c.reply(wire.EvtError, ref, r.hub.now(), wire.ErrorBody{Code: code, Message: apperr.Message(err)})
}

// payload decodes the typed data of a frame.
func payload[T any](c *Conn, raw []byte) (T, error) {
	f, err := wire.Decode[T](c.codec, raw)
	if err != nil {
		var zero T
		return zero, apperr.Validation("gateway.decode", "%v", err)
	}
	return f.Data, nil
}

func required(op, field, v string) error {
	if v == "" {
		return apperr.Validation(op, "%s is required", field)
	}
	return nil
}

func (r *Router) ping(ctx context.Context, c *Conn, raw []byte) (any, error) {
	return nil, nil
}

// joinRoom authorizes the subscription by room kind: conversations need
// membership, sessions need host or participant status, user rooms are
// private to their owner.
func (r *Router) joinRoom(ctx context.Context, c *Conn, raw []byte) (any, error) {
	const op = "gateway.join_room"
	p, err := payload[wire.JoinRoom](c, raw)
	if err != nil {
		return nil, err
	}
	kind, id, ok := wire.ParseRoom(p.RoomID)
	if !ok {
		return nil, apperr.Validation(op, "invalid room %q", p.RoomID)
	}
	var (
		allowed bool
		members []string
	)
	switch kind {
	case wire.RoomConversation:
		allowed, err = r.msgs.JoinRoom(ctx, id, c.UserID, func() { members = r.hub.Join(c, p.RoomID) })
	case wire.RoomSession:
		if allowed, err = r.sessions.CanJoinRoom(ctx, id, c.UserID); allowed && err == nil {
			members = r.hub.Join(c, p.RoomID)
		}
	case wire.RoomUser:
		if allowed = id == c.UserID; allowed {
			members = r.hub.Join(c, p.RoomID)
		}
	}
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperr.Forbidden(op, "not allowed in %s", p.RoomID)
	}
	return wire.RoomJoined{RoomID: p.RoomID, Members: members}, nil
}

func (r *Router) leaveRoom(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.JoinRoom](c, raw)
	if err != nil {
		return nil, err
	}
	if p.RoomID == wire.UserRoom(c.UserID) {
		return nil, apperr.Validation("gateway.leave_room", "cannot leave own user room")
	}
	r.hub.Leave(c, p.RoomID)
	return wire.JoinRoom{RoomID: p.RoomID}, nil
}

func (r *Router) sendMessage(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.SendMessage](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.send_message", "conversation_id", p.ConversationID); err != nil {
		return nil, err
	}
	msg, _, err := r.msgs.Send(ctx, coordinator.SendRequest{
		ConversationID: p.ConversationID,
		SenderID:       c.UserID,
		Content:        p.Content,
		MediaRef:       p.MediaRef,
		ClientTempID:   p.ClientTempID,
	})
	return msg, err
}

func (r *Router) editMessage(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.EditMessage](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.edit_message", "message_id", p.MessageID); err != nil {
		return nil, err
	}
	return r.msgs.Edit(ctx, p.MessageID, c.UserID, p.Content)
}

func (r *Router) deleteMessage(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.MessageRef](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.delete_message", "message_id", p.MessageID); err != nil {
		return nil, err
	}
	msg, err := r.msgs.Delete(ctx, p.MessageID, c.UserID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return wire.MessageRef{MessageID: p.MessageID}, nil
	}
	return msg, nil
}

func (r *Router) react(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.React](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.react", "message_id", p.MessageID); err != nil {
		return nil, err
	}
	rx, _, err := r.msgs.React(ctx, p.MessageID, c.UserID, p.Emoji)
	return rx, err
}

func (r *Router) unreact(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.React](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.unreact", "message_id", p.MessageID); err != nil {
		return nil, err
	}
	removed, err := r.msgs.Unreact(ctx, p.MessageID, c.UserID, p.Emoji)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"removed": removed}, nil
}

func (r *Router) markRead(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.MessageRef](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.mark_read", "message_id", p.MessageID); err != nil {
		return nil, err
	}
	_, advanced, err := r.msgs.MarkRead(ctx, p.MessageID, c.UserID)
	if err != nil {
		return nil, err
	}
	return wire.ReadResult{MessageID: p.MessageID, Advanced: advanced}, nil
}

func (r *Router) markReadBatch(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.MarkReadBatch](c, raw)
	if err != nil {
		return nil, err
	}
	if len(p.MessageIDs) == 0 {
		return nil, apperr.Validation("gateway.mark_read_batch", "message_ids is required")
	}
	return r.msgs.MarkReadBatch(ctx, p.MessageIDs, c.UserID), nil
}

func (r *Router) setTyping(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := r.typingTarget(ctx, c, raw)
	if err != nil {
		return nil, err
	}
	r.typing.SetTyping(p.ConversationID, c.UserID)
	return nil, nil
}

func (r *Router) stopTyping(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := r.typingTarget(ctx, c, raw)
	if err != nil {
		return nil, err
	}
	r.typing.StopTyping(p.ConversationID, c.UserID)
	return nil, nil
}

func (r *Router) typingTarget(ctx context.Context, c *Conn, raw []byte) (wire.ConversationRef, error) {
	const op = "gateway.typing"
	p, err := payload[wire.ConversationRef](c, raw)
	if err != nil {
		return p, err
	}
	if err := required(op, "conversation_id", p.ConversationID); err != nil {
		return p, err
	}
	ok, err := r.msgs.IsParticipant(ctx, p.ConversationID, c.UserID)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, apperr.Forbidden(op, "not a participant")
	}
	return p, nil
}

func (r *Router) requestJoin(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.SessionRef](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.request_join", "session_id", p.SessionID); err != nil {
		return nil, err
	}
	return r.sessions.RequestJoin(ctx, c.UserID, p.SessionID)
}

func (r *Router) approve(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.RequestRef](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.approve_request", "request_id", p.RequestID); err != nil {
		return nil, err
	}
	return r.sessions.Approve(ctx, c.UserID, p.RequestID)
}

func (r *Router) reject(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.RequestRef](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.reject_request", "request_id", p.RequestID); err != nil {
		return nil, err
	}
	return r.sessions.Reject(ctx, c.UserID, p.RequestID)
}

func (r *Router) createSession(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.CreateSession](c, raw)
	if err != nil {
		return nil, err
	}
	return r.sessions.CreateSession(ctx, c.UserID, p)
}

func (r *Router) sessionRef(op string, c *Conn, raw []byte) (string, error) {
	p, err := payload[wire.SessionRef](c, raw)
	if err != nil {
		return "", err
	}
	return p.SessionID, required(op, "session_id", p.SessionID)
}

func (r *Router) startSession(ctx context.Context, c *Conn, raw []byte) (any, error) {
	sid, err := r.sessionRef("gateway.start_session", c, raw)
	if err != nil {
		return nil, err
	}
	return r.sessions.Start(ctx, c.UserID, sid)
}

func (r *Router) endSession(ctx context.Context, c *Conn, raw []byte) (any, error) {
	sid, err := r.sessionRef("gateway.end_session", c, raw)
	if err != nil {
		return nil, err
	}
	return r.sessions.End(ctx, c.UserID, sid)
}

func (r *Router) leaveSession(ctx context.Context, c *Conn, raw []byte) (any, error) {
	sid, err := r.sessionRef("gateway.leave_session", c, raw)
	if err != nil {
		return nil, err
	}
	if err := r.sessions.Leave(ctx, c.UserID, sid); err != nil {
		return nil, err
	}
	return wire.SessionRef{SessionID: sid}, nil
}

func (r *Router) addCoHost(ctx context.Context, c *Conn, raw []byte) (any, error) {
	p, err := payload[wire.AddCoHost](c, raw)
	if err != nil {
		return nil, err
	}
	if err := required("gateway.add_cohost", "session_id", p.SessionID); err != nil {
		return nil, err
	}
	if err := required("gateway.add_cohost", "user_id", p.UserID); err != nil {
		return nil, err
	}
	return r.sessions.AddCoHost(ctx, c.UserID, p.SessionID, p.UserID)
}

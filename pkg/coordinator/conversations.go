package coordinator

import (
	"context"

	"chatsync/pkg/apperr"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/store/keys"
	"chatsync/pkg/wire"
)

type CreateConversation struct {
	Kind         models.ConversationKind     `json:"kind"`
	Title        string                      `json:"title,omitempty"`
	Participants []string                    `json:"participants"`
	Settings     models.ConversationSettings `json:"settings"`
}

// CreateConversation creates a direct or group conversation with the
// creator as its first participant and moderator.
func (c *Coordinator) CreateConversation(ctx context.Context, creator string, req CreateConversation) (*models.Conversation, error) {
	const op = "coordinator.create_conversation"
	if req.Kind == models.KindLive {
		return nil, apperr.Validation(op, "live conversations are created with their session")
	}
	if !req.Kind.Valid() {
		return nil, apperr.Validation(op, "unknown conversation kind %q", req.Kind)
	}
	members := []string{creator}
	for _, p := range req.Participants {
		if err := keys.ValidateID("user", p); err != nil {
			return nil, apperr.Validation(op, "%v", err)
		}
		if p != creator && !contains(members, p) {
			members = append(members, p)
		}
	}
	if req.Kind == models.KindDirect && len(members) != 2 {
		return nil, apperr.Validation(op, "a direct conversation has exactly two participants")
	}
	if req.Settings.MaxParticipants < 0 {
		return nil, apperr.Validation(op, "max_participants must not be negative")
	}
	if max := req.Settings.MaxParticipants; max > 0 && len(members) > max {
		return nil, apperr.Validation(op, "%d participants exceed max_participants %d", len(members), max)
	}
	if req.Kind == models.KindDirect {
		if err := c.checkBlocked(ctx, op, members[1], creator); err != nil {
			return nil, err
		}
	}
	return c.create(op, &models.Conversation{
		ID:           newID("c-"),
		Kind:         req.Kind,
		Title:        req.Title,
		CreatedBy:    creator,
		Participants: members,
		Moderators:   []string{creator},
		Settings:     req.Settings,
	})
}

// CreateLive creates the conversation backing a live session. The host is
// its only participant until requests are approved.
func (c *Coordinator) CreateLive(ctx context.Context, hostID, title string) (*models.Conversation, error) {
	return c.create("coordinator.create_live", &models.Conversation{
		ID:           newID("c-"),
		Kind:         models.KindLive,
		Title:        title,
		CreatedBy:    hostID,
		Participants: []string{hostID},
		Moderators:   []string{hostID},
		Settings:     models.ConversationSettings{ApprovalRequired: true},
	})
}

func (c *Coordinator) create(op string, conv *models.Conversation) (*models.Conversation, error) {
	conv.CreatedTS = c.now(0)
	conv.UpdatedTS = conv.CreatedTS
	unlock := c.locks.Lock(lockKey(conv.ID))
	defer unlock()
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.PutConversation(conv, conv.Participants, nil)
		return nil
	}); err != nil {
		return nil, err
	}
	for _, p := range conv.Participants {
		c.out.EmitToUser(p, wire.EvtParticipantJoined, wire.Participant{RoomID: wire.ConversationRoom(conv.ID), UserID: p}, false)
	}
	logger.Info("conversation_created", "conversation", conv.ID, "kind", conv.Kind, "participants", len(conv.Participants))
	return conv, nil
}

// GetConversation returns the conversation if actor participates in it.
func (c *Coordinator) GetConversation(ctx context.Context, actor, convID string) (*models.Conversation, error) {
	conv, err := c.st.GetConversation(convID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant("coordinator.get_conversation", conv, actor); err != nil {
		return nil, err
	}
	return conv, nil
}

func (c *Coordinator) IsParticipant(ctx context.Context, convID, userID string) (bool, error) {
	conv, err := c.st.GetConversation(convID)
	if err != nil {
		return false, err
	}
	return conv.HasParticipant(userID), nil
}

// JoinRoom runs join inside the conversation's exclusive section when
// userID is a participant, so a concurrent removal cannot leave the user
// subscribed.
func (c *Coordinator) JoinRoom(ctx context.Context, convID, userID string, join func()) (bool, error) {
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return false, err
	}
	defer unlock()
	if !conv.HasParticipant(userID) {
		return false, nil
	}
	join()
	return true, nil
}

// ConversationsFor lists the conversations a user participates in.
func (c *Coordinator) ConversationsFor(ctx context.Context, userID string) ([]string, error) {
	return c.st.ConversationsFor(userID)
}

// AddParticipant adds userID on behalf of actor. In conversations that
// require approval only moderators may add; otherwise any participant can.
func (c *Coordinator) AddParticipant(ctx context.Context, actor, convID, userID string) (*models.Conversation, error) {
	const op = "coordinator.add_participant"
	if err := keys.ValidateID("user", userID); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	if err := c.checkBanned(ctx, op, convID, userID); err != nil {
		return nil, err
	}
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	switch {
	case conv.Kind == models.KindDirect:
		return nil, apperr.Forbidden(op, "direct conversations have a fixed participant set")
	case conv.Kind == models.KindLive:
		return nil, apperr.Forbidden(op, "live session members join through the session")
	case conv.Settings.ApprovalRequired && !conv.IsModerator(actor):
		return nil, apperr.Forbidden(op, "only moderators may add participants")
	case !conv.HasParticipant(actor):
		return nil, apperr.Forbidden(op, "%s is not a participant of %s", actor, convID)
	}
	return conv, c.addLocked(op, conv, userID)
}

// Join adds userID without a permission check. The broker uses it once a
// join request is approved.
func (c *Coordinator) Join(ctx context.Context, convID, userID string) error {
	const op = "coordinator.join"
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return err
	}
	defer unlock()
	return c.addLocked(op, conv, userID)
}

func (c *Coordinator) addLocked(op string, conv *models.Conversation, userID string) error {
	if conv.HasParticipant(userID) {
		return nil
	}
	if max := conv.Settings.MaxParticipants; max > 0 && len(conv.Participants) >= max {
		return apperr.Forbidden(op, "conversation is full")
	}
	conv.AddParticipant(userID)
	conv.UpdatedTS = c.now(conv.UpdatedTS)
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.PutConversation(conv, []string{userID}, nil)
		return nil
	}); err != nil {
		return err
	}
	ev := wire.Participant{RoomID: wire.ConversationRoom(conv.ID), UserID: userID}
	c.out.Emit(wire.ConversationRoom(conv.ID), wire.EvtParticipantJoined, ev)
	c.out.EmitToUser(userID, wire.EvtParticipantJoined, ev, false)
	return nil
}

// RemoveParticipant removes userID. Participants may remove themselves;
// removing anyone else takes a moderator.
func (c *Coordinator) RemoveParticipant(ctx context.Context, actor, convID, userID string) error {
	const op = "coordinator.remove_participant"
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return err
	}
	defer unlock()
	if actor != userID && !conv.IsModerator(actor) {
		return apperr.Forbidden(op, "only moderators may remove other participants")
	}
	if conv.Kind == models.KindDirect {
		return apperr.Forbidden(op, "direct conversations have a fixed participant set")
	}
	return c.removeLocked(op, conv, userID)
}

// Leave removes userID without a permission check.
func (c *Coordinator) Leave(ctx context.Context, convID, userID string) error {
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return err
	}
	defer unlock()
	return c.removeLocked("coordinator.leave", conv, userID)
}

func (c *Coordinator) removeLocked(op string, conv *models.Conversation, userID string) error {
	if !conv.RemoveParticipant(userID) {
		return nil
	}
	conv.UpdatedTS = c.now(conv.UpdatedTS)
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.PutConversation(conv, nil, []string{userID})
		return nil
	}); err != nil {
		return err
	}
	room := wire.ConversationRoom(conv.ID)
	if c.rooms != nil {
		c.rooms.RemoveUserFromRoom(userID, room)
	}
	ev := wire.Participant{RoomID: room, UserID: userID}
	c.out.Emit(room, wire.EvtParticipantLeft, ev)
	c.out.EmitToUser(userID, wire.EvtParticipantLeft, ev, false)
	return nil
}

// PromoteModerator makes userID a moderator. Only the creator or an existing
// moderator may promote.
func (c *Coordinator) PromoteModerator(ctx context.Context, actor, convID, userID string) (*models.Conversation, error) {
	const op = "coordinator.promote_moderator"
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !conv.IsModerator(actor) {
		return nil, apperr.Forbidden(op, "only moderators may promote")
	}
	if err := requireParticipant(op, conv, userID); err != nil {
		return nil, err
	}
	if conv.IsModerator(userID) {
		return conv, nil
	}
	conv.Moderators = append(conv.Moderators, userID)
	conv.UpdatedTS = c.now(conv.UpdatedTS)
	return conv, c.st.Update(op, func(w *store.Writer) error {
		w.PutConversation(conv, nil, nil)
		return nil
	})
}

// UpdateSettings replaces the conversation settings.
func (c *Coordinator) UpdateSettings(ctx context.Context, actor, convID string, s models.ConversationSettings) (*models.Conversation, error) {
	const op = "coordinator.update_settings"
	if s.MaxParticipants < 0 {
		return nil, apperr.Validation(op, "max_participants must not be negative")
	}
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !conv.IsModerator(actor) {
		return nil, apperr.Forbidden(op, "only moderators may change settings")
	}
	if s.MaxParticipants > 0 && s.MaxParticipants < len(conv.Participants) {
		return nil, apperr.Conflict(op, "conversation already has %d participants", len(conv.Participants))
	}
	conv.Settings = s
	conv.UpdatedTS = c.now(conv.UpdatedTS)
	return conv, c.st.Update(op, func(w *store.Writer) error {
		w.PutConversation(conv, nil, nil)
		return nil
	})
}

// Ban bans or unbans userID. A ban also removes the user.
func (c *Coordinator) Ban(ctx context.Context, actor, convID, userID string, banned bool) error {
	const op = "coordinator.ban"
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return err
	}
	defer unlock()
	if !conv.IsModerator(actor) {
		return apperr.Forbidden(op, "only moderators may ban")
	}
	if userID == conv.CreatedBy {
		return apperr.Forbidden(op, "the creator cannot be banned")
	}
	if err := c.mod.SetBan(ctx, convID, userID, banned); err != nil {
		return err
	}
	logger.Info("conversation_ban_changed", "conversation", convID, "user", userID, "banned", banned, "by", actor)
	if banned {
		return c.removeLocked(op, conv, userID)
	}
	return nil
}

// Block records that actor blocked (or unblocked) target.
func (c *Coordinator) Block(ctx context.Context, actor, target string, on bool) error {
	const op = "coordinator.block"
	if actor == target {
		return apperr.Validation(op, "cannot block yourself")
	}
	if err := keys.ValidateID("user", target); err != nil {
		return apperr.Validation(op, "%v", err)
	}
	return c.mod.SetBlock(ctx, actor, target, on)
}

// DeleteConversation destroys a conversation with all of its messages.
// Only the creator may do this.
func (c *Coordinator) DeleteConversation(ctx context.Context, actor, convID string) error {
	const op = "coordinator.delete_conversation"
	conv, unlock, err := c.lock(convID)
	if err != nil {
		return err
	}
	defer unlock()
	if conv.CreatedBy != actor {
		return apperr.Forbidden(op, "only the creator may delete a conversation")
	}
	ids, err := c.st.MessageIDs(convID)
	if err != nil {
		return err
	}
	if err := c.st.Update(op, func(w *store.Writer) error {
		w.DeleteConversation(conv, ids)
		return nil
	}); err != nil {
		return err
	}
	for _, p := range conv.Participants {
		ev := wire.Participant{RoomID: wire.ConversationRoom(convID), UserID: p}
		c.out.Emit(wire.ConversationRoom(convID), wire.EvtParticipantLeft, ev)
	}
	if c.rooms != nil {
		c.rooms.CloseRoom(wire.ConversationRoom(convID))
	}
	logger.Info("conversation_deleted", "conversation", convID, "messages", len(ids))
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// conservative ID validation: letters, digits, dot, underscore, dash
	idRegexp         = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)
	messageKeyRegexp = regexp.MustCompile(`^c:([A-Za-z0-9._-]{1,256}):m:([0-9]{20})$`)
)

// ValidateID rejects ids that would break key shapes.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id empty", kind)
	}
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid %s id: %q", kind, id)
	}
	return nil
}

func PadSeq(seq uint64) string {
	return fmt.Sprintf("%0*d", SeqPadWidth, seq)
}

func Conversation(conv string) string { return fmt.Sprintf(ConversationMeta, conv) }

func Message(conv string, seq uint64) string {
	return fmt.Sprintf(MessageKey, conv, PadSeq(seq))
}

func Messages(conv string) string { return fmt.Sprintf(MessagePrefix, conv) }

func Change(conv string, rev uint64) string {
	return fmt.Sprintf(ChangeKey, conv, PadSeq(rev))
}

func Changes(conv string) string { return fmt.Sprintf(ChangePrefix, conv) }

func MessageID(msgID string) string { return fmt.Sprintf(MessageIndex, msgID) }

func Temp(conv, sender, tempID string) string {
	return fmt.Sprintf(TempIndex, conv, sender, tempID)
}

func Reaction(conv, msgID, user, emoji string) string {
	return fmt.Sprintf(ReactionKey, conv, msgID, user, emoji)
}

func Reactions(conv, msgID string) string { return fmt.Sprintf(ReactionPrefix, conv, msgID) }

func ReadCursor(conv, user string) string { return fmt.Sprintf(ReadCursorKey, conv, user) }

func ReadCursors(conv string) string { return fmt.Sprintf(ReadCursorPrefix, conv) }

func ReadReceipt(msgID, user string) string { return fmt.Sprintf(ReadReceiptKey, msgID, user) }

func ReadReceipts(msgID string) string { return fmt.Sprintf(ReadReceiptPfx, msgID) }

func Session(sid string) string { return fmt.Sprintf(SessionMeta, sid) }

func JoinRequest(sid, rid string) string { return fmt.Sprintf(JoinRequestKey, sid, rid) }

func JoinRequests(sid string) string { return fmt.Sprintf(JoinRequestPfx, sid) }

func PendingJoin(sid, user string) string { return fmt.Sprintf(PendingJoinKey, sid, user) }

func JoinRequestID(rid string) string { return fmt.Sprintf(JoinRequestIndex, rid) }

func Membership(user, conv string) string { return fmt.Sprintf(MembershipKey, user, conv) }

func Memberships(user string) string { return fmt.Sprintf(MembershipPrefix, user) }

func Hosted(user, sid string) string { return fmt.Sprintf(HostedSession, user, sid) }

func HostedSessions(user string) string { return fmt.Sprintf(HostedPrefix, user) }

func Ban(conv, user string) string { return fmt.Sprintf(BanKey, conv, user) }

func Block(blocker, blocked string) string { return fmt.Sprintf(BlockKey, blocker, blocked) }

// ParseMessageKey extracts conversation id and seq from a message key.
func ParseMessageKey(key string) (string, uint64, error) {
	m := messageKeyRegexp.FindStringSubmatch(key)
	if m == nil {
		return "", 0, fmt.Errorf("invalid message key: %q", key)
	}
	seq, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid seq in key %q: %w", key, err)
	}
	return m[1], seq, nil
}

// EncodeLocator is the value stored under the message id index.
func EncodeLocator(conv string, seq uint64) string {
	return conv + ":" + strconv.FormatUint(seq, 10)
}

func DecodeLocator(v string) (string, uint64, error) {
	i := strings.LastIndexByte(v, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid locator: %q", v)
	}
	seq, err := strconv.ParseUint(v[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid locator seq: %w", err)
	}
	return v[:i], seq, nil
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

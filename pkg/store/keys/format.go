package keys

const (
	// notation dictionary for key formats:
	// c   = conversation
	// m   = message (by seq)
	// v   = message change by revision
	// mi  = message id index
	// tmp = client temp id index
	// r   = reaction
	// rc  = read cursor
	// rr  = read receipt
	// s   = live session
	// jr  = join request
	// jp  = pending join request by user
	// u   = user membership
	// mod = moderation
	// All keys are lowercase; segments are separated by ":"

	ConversationMeta = "c:%s:meta"       // c:<conv>:meta
	MessageKey       = "c:%s:m:%s"       // c:<conv>:m:<seq>
	MessagePrefix    = "c:%s:m:"         // c:<conv>:m:
	ChangeKey        = "c:%s:v:%s"       // c:<conv>:v:<rev> -> <seq>
	ChangePrefix     = "c:%s:v:"         // c:<conv>:v:
	MessageIndex     = "mi:%s"           // mi:<msg_id> -> <conv>:<seq>
	TempIndex        = "tmp:%s:%s:%s"    // tmp:<conv>:<sender>:<temp_id> -> <msg_id>
	ReactionKey      = "c:%s:r:%s:%s:%s" // c:<conv>:r:<msg_id>:<user>:<emoji>
	ReactionPrefix   = "c:%s:r:%s:"      // c:<conv>:r:<msg_id>:
	ReadCursorKey    = "c:%s:rc:%s"      // c:<conv>:rc:<user>
	ReadCursorPrefix = "c:%s:rc:"        // c:<conv>:rc:
	ReadReceiptKey   = "rr:%s:%s"        // rr:<msg_id>:<user>
	ReadReceiptPfx   = "rr:%s:"          // rr:<msg_id>:
	SessionMeta      = "s:%s:meta"       // s:<sid>:meta
	JoinRequestKey   = "s:%s:jr:%s"      // s:<sid>:jr:<rid>
	JoinRequestPfx   = "s:%s:jr:"        // s:<sid>:jr:
	PendingJoinKey   = "s:%s:jp:%s"      // s:<sid>:jp:<user> -> <rid>
	JoinRequestIndex = "jr:%s"           // jr:<rid> -> <sid>
	MembershipKey    = "u:%s:c:%s"       // u:<user>:c:<conv>
	MembershipPrefix = "u:%s:c:"         // u:<user>:c:
	HostedSession    = "u:%s:hs:%s"      // u:<user>:hs:<sid>
	HostedPrefix     = "u:%s:hs:"        // u:<user>:hs:
	BanKey           = "mod:ban:%s:%s"   // mod:ban:<conv>:<user>
	BlockKey         = "mod:block:%s:%s" // mod:block:<blocker>:<blocked>

	TempIndexPrefix        = "tmp:"
	ConversationMetaPrefix = "c:"
	SessionMetaPrefix      = "s:"

	// padding width keeps seq keys in lexicographic order
	SeqPadWidth = 20
)

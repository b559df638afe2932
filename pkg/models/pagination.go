package models

type PaginationResponse struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	Count      int    `json:"count"`
}

type MessageCursor struct {
	ConversationID string `json:"conversation_id"`
	Seq            uint64 `json:"seq"`
}

// MessagePage is one page of history, ordered by ascending seq.
type MessagePage struct {
	Messages   []Message          `json:"messages"`
	Reactions  []Reaction         `json:"reactions,omitempty"`
	Pagination PaginationResponse `json:"pagination"`
	LastSeq    uint64             `json:"last_seq"`
	// Rev is the revision a delta page brings its reader up to.
	Rev uint64 `json:"rev,omitempty"`
}

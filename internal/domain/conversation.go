package domain

// Turn is a single persisted conversation turn.
type Turn struct {
	PK             string
	SK             string
	ConversationID string
	Role           string
	Content        string
	TTL            int64
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	LastActivity   string
	Turns          int
	TTL            int64
}

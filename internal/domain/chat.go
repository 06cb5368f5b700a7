package domain

// Conversation roles. Turns carrying any other role are rejected at the
// handler boundary.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationTurn is one message in a chat history, tagged with a role and
// textual content. An ordered slice of turns forms a conversation,
// chronological by position.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of the known conversation roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// IntentResult is the structured outcome of intent extraction: a
// natural-language restatement of what the user is looking for, and a compact
// topical query for the retrieval backend. Created fresh per invocation and
// never mutated.
type IntentResult struct {
	Intent      string `json:"intent"`
	SearchQuery string `json:"search_query"`
}

// Passage is one retrieved chunk of book text returned by the search service.
type Passage struct {
	ID          string  `json:"id"`
	Content     string  `json:"content"`
	Title       string  `json:"title"`
	Filepath    string  `json:"filepath"`
	SourceIndex string  `json:"sourceIndex"`
	Score       float64 `json:"score"`
}

package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"booksearch-agent/internal/domain"
)

const maxConversationTurns = 50

type TurnWriter interface {
	GetConversationTurnCount(ctx context.Context, conversationID string) (int, error)
	AppendTurn(ctx context.Context, conversationID, role, content string, turns int) error
}

// TurnService records chat turns into the conversation log so later
// extractions can replay them by conversation ID.
type TurnService struct {
	state         TurnWriter
	maxContentLen int
}

type RecordTurnInput struct {
	ConversationID string
	Role           string
	Content        string
}

type RecordTurnOutput struct {
	ConversationID string
	Turns          int
}

func NewTurnService(state TurnWriter, maxContentLen int) (*TurnService, error) {
	if state == nil {
		return nil, errors.New("usecase: turn writer must not be nil")
	}
	if maxContentLen <= 0 {
		maxContentLen = defaultMaxContentLen
	}
	return &TurnService{state: state, maxContentLen: maxContentLen}, nil
}

// RecordTurn appends one turn to a conversation, minting a conversation ID
// when the caller does not supply one.
func (s *TurnService) RecordTurn(ctx context.Context, in RecordTurnInput) (RecordTurnOutput, error) {
	if !domain.ValidRole(in.Role) {
		return RecordTurnOutput{}, newError(ErrorInvalidInput, "unknown_role", nil)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return RecordTurnOutput{}, newError(ErrorInvalidInput, "empty_content", nil)
	}
	if len(content) > s.maxContentLen {
		return RecordTurnOutput{}, newError(ErrorInvalidInput, "content_too_long", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	existingTurns := 0
	if convID == "" {
		convID = newUUID()
	} else {
		count, err := s.state.GetConversationTurnCount(ctx, convID)
		if err != nil {
			return RecordTurnOutput{}, newError(ErrorInternal, "dynamodb_turn_count_error", err)
		}
		existingTurns = count
		if existingTurns >= maxConversationTurns {
			return RecordTurnOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
		}
	}

	if err := s.state.AppendTurn(ctx, convID, in.Role, content, existingTurns+1); err != nil {
		return RecordTurnOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	return RecordTurnOutput{ConversationID: convID, Turns: existingTurns + 1}, nil
}

var newUUID = func() string {
	return uuid.NewString()
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"booksearch-agent/internal/domain"
)

const (
	defaultMaxContext    = 20
	defaultMaxContentLen = 2000
	upstreamAttempts     = 2
	upstreamRetryDelay   = 250 * time.Millisecond
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ConversationTurn) (string, error)
}

type TurnReader interface {
	GetTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ExtractService maps a conversation transcript to an IntentResult by
// delegating to an external generation service and validating its output.
// Each extraction is independent; the only shared state is the lazily loaded
// parameter cache.
type ExtractService struct {
	params          ParamGetter
	llm             LLMClient
	state           TurnReader
	paramPrefix     string
	maxContextItems int
	maxContentLen   int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
	denylist    []*regexp.Regexp
}

type ExtractInput struct {
	ConversationID string
	Turns          []domain.ConversationTurn
}

type ExtractOutput struct {
	Result domain.IntentResult
}

func NewExtractService(p ParamGetter, llm LLMClient, state TurnReader, paramPrefix string, maxContextItems, maxContentLen int) (*ExtractService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if state == nil {
		return nil, errors.New("usecase: turn reader must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxContextItems <= 0 {
		maxContextItems = defaultMaxContext
	}
	if maxContentLen <= 0 {
		maxContentLen = defaultMaxContentLen
	}
	return &ExtractService{
		params:          p,
		llm:             llm,
		state:           state,
		paramPrefix:     paramPrefix,
		maxContextItems: maxContextItems,
		maxContentLen:   maxContentLen,
	}, nil
}

// Extract infers the user's intent and a retrieval query from the given
// conversation. When a conversation ID is supplied, persisted turns are
// loaded and prepended to the supplied ones; extraction itself never writes.
func (s *ExtractService) Extract(ctx context.Context, in ExtractInput) (ExtractOutput, error) {
	turns, err := s.assembleTurns(ctx, in)
	if err != nil {
		return ExtractOutput{}, err
	}
	if err := validateTurns(turns, s.maxContentLen); err != nil {
		return ExtractOutput{}, err
	}
	if !hasContent(turns) {
		return ExtractOutput{}, newError(ErrorEmptyConversation, "no_usable_content", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ExtractOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	messages, err := buildPromptMessages(turns)
	if err != nil {
		return ExtractOutput{}, newError(ErrorInternal, "prompt_render_error", err)
	}

	raw, err := s.chatWithRetry(ctx, messages)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ExtractOutput{}, newError(ErrorRateLimited, "generation_rate_limited", err)
		}
		return ExtractOutput{}, newError(ErrorUpstreamUnavailable, "generation_request_failed", err)
	}

	parsed, err := parseIntentResponse(raw)
	if err != nil {
		return ExtractOutput{}, newError(ErrorMalformedResponse, "generation_malformed_response", err)
	}

	query := stripFiller(parsed.SearchQuery, s.currentDenylist())
	if query == "" {
		return ExtractOutput{}, newError(ErrorMalformedResponse, "search_query_all_filler", nil)
	}

	return ExtractOutput{
		Result: domain.IntentResult{
			Intent:      strings.TrimSpace(parsed.Intent),
			SearchQuery: query,
		},
	}, nil
}

func (s *ExtractService) assembleTurns(ctx context.Context, in ExtractInput) ([]domain.ConversationTurn, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return in.Turns, nil
	}
	stored, err := s.state.GetTurns(ctx, convID, s.maxContextItems)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	turns := make([]domain.ConversationTurn, 0, len(stored)+len(in.Turns))
	for _, t := range stored {
		turns = append(turns, domain.ConversationTurn{Role: t.Role, Content: t.Content})
	}
	return append(turns, in.Turns...), nil
}

// chatWithRetry issues the generation call with a single bounded retry.
// Transport failures and upstream 5xx are retried once; everything else is
// surfaced immediately.
func (s *ExtractService) chatWithRetry(ctx context.Context, messages []domain.ConversationTurn) (string, error) {
	return retry.DoWithData(
		func() (string, error) {
			return s.llm.Chat(ctx, s.currentModel(), messages)
		},
		retry.Context(ctx),
		retry.Attempts(upstreamAttempts),
		retry.Delay(upstreamRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			status, ok := upstreamStatusCode(err)
			if !ok {
				return true
			}
			return status >= 500
		}),
	)
}

func (s *ExtractService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, extraFiller, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.model = model
	s.denylist = compileDenylist(extraFiller)
	s.cacheLoaded = true
	return nil
}

func (s *ExtractService) loadSSMParams(ctx context.Context) (model string, extraFiller []string, err error) {
	prefix := strings.TrimRight(s.paramPrefix, "/")

	model, err = s.params.GetParameter(ctx, prefix+"/config/intent_model")
	if err != nil {
		return "", nil, fmt.Errorf("usecase: load intent model: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		return "", nil, errors.New("usecase: intent model parameter is empty")
	}

	rawList, err := s.params.GetParameter(ctx, prefix+"/config/filler_denylist")
	if err != nil {
		return "", nil, fmt.Errorf("usecase: load filler denylist: %w", err)
	}
	for _, p := range strings.Split(rawList, ",") {
		if p = strings.TrimSpace(p); p != "" {
			extraFiller = append(extraFiller, p)
		}
	}
	return strings.TrimSpace(model), extraFiller, nil
}

func (s *ExtractService) currentModel() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.model
}

func (s *ExtractService) currentDenylist() []*regexp.Regexp {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.denylist
}

func validateTurns(turns []domain.ConversationTurn, maxContentLen int) error {
	for _, t := range turns {
		if !domain.ValidRole(t.Role) {
			return newError(ErrorInvalidInput, "unknown_role", fmt.Errorf("role %q", t.Role))
		}
		if len(t.Content) > maxContentLen {
			return newError(ErrorInvalidInput, "content_too_long", nil)
		}
	}
	return nil
}

func hasContent(turns []domain.ConversationTurn) bool {
	for _, t := range turns {
		if strings.TrimSpace(t.Content) != "" {
			return true
		}
	}
	return false
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

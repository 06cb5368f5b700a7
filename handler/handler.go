package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"booksearch-agent/internal/domain"
	"booksearch-agent/internal/usecase"
)

type ExtractUseCase interface {
	Extract(ctx context.Context, in usecase.ExtractInput) (usecase.ExtractOutput, error)
}

type SearchUseCase interface {
	Search(ctx context.Context, in usecase.SearchInput) (usecase.SearchOutput, error)
	ListIndexes(ctx context.Context) ([]string, error)
}

type TurnUseCase interface {
	RecordTurn(ctx context.Context, in usecase.RecordTurnInput) (usecase.RecordTurnOutput, error)
}

// Handler routes API Gateway proxy events to the agent's use cases.
type Handler struct {
	extract ExtractUseCase
	search  SearchUseCase
	turns   TurnUseCase
}

type conversationRequest struct {
	Conversation   []domain.ConversationTurn `json:"conversation"`
	ConversationID string                    `json:"conversationId"`
	IndexName      string                    `json:"indexName"`
	Top            int                       `json:"top"`
}

type turnRequest struct {
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

type extractResponse struct {
	Intent      string `json:"intent"`
	SearchQuery string `json:"search_query"`
}

type searchResponse struct {
	Intent          string           `json:"intent"`
	SearchQuery     string           `json:"search_query"`
	Results         []domain.Passage `json:"results"`
	IndexesSearched []string         `json:"indexesSearched"`
}

type turnResponse struct {
	ConversationID string `json:"conversationId"`
	Turns          int    `json:"turns"`
}

type indexesResponse struct {
	Indexes []string `json:"indexes"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(extract ExtractUseCase, search SearchUseCase, turns TurnUseCase) (*Handler, error) {
	if extract == nil {
		return nil, errors.New("handler: extract use case must not be nil")
	}
	if search == nil {
		return nil, errors.New("handler: search use case must not be nil")
	}
	if turns == nil {
		return nil, errors.New("handler: turn use case must not be nil")
	}
	return &Handler{extract: extract, search: search, turns: turns}, nil
}

// Handle dispatches one API Gateway proxy event. Every response carries an
// X-Correlation-Id header, echoed from the request when present.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := slog.With("correlationId", corrID, "method", event.HTTPMethod, "path", event.Path)

	switch {
	case event.HTTPMethod == http.MethodPost && routeMatches(event.Path, "/extract"):
		return h.handleExtract(ctx, event, corrID, log), nil
	case event.HTTPMethod == http.MethodPost && routeMatches(event.Path, "/search"):
		return h.handleSearch(ctx, event, corrID, log), nil
	case event.HTTPMethod == http.MethodPost && routeMatches(event.Path, "/turns"):
		return h.handleRecordTurn(ctx, event, corrID, log), nil
	case event.HTTPMethod == http.MethodGet && routeMatches(event.Path, "/indexes"):
		return h.handleListIndexes(ctx, corrID, log), nil
	}
	return respond(http.StatusNotFound, corrID, errorResponse{Error: "NOT_FOUND"}), nil
}

func (h *Handler) handleExtract(ctx context.Context, event events.APIGatewayProxyRequest, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	var req conversationRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
	}

	out, err := h.extract.Extract(ctx, usecase.ExtractInput{
		ConversationID: req.ConversationID,
		Turns:          req.Conversation,
	})
	if err != nil {
		return errorToResponse(err, corrID, log)
	}
	return respond(http.StatusOK, corrID, extractResponse{
		Intent:      out.Result.Intent,
		SearchQuery: out.Result.SearchQuery,
	})
}

func (h *Handler) handleSearch(ctx context.Context, event events.APIGatewayProxyRequest, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	var req conversationRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
	}

	out, err := h.search.Search(ctx, usecase.SearchInput{
		ConversationID: req.ConversationID,
		Turns:          req.Conversation,
		IndexName:      req.IndexName,
		Top:            req.Top,
	})
	if err != nil {
		return errorToResponse(err, corrID, log)
	}
	results := out.Passages
	if results == nil {
		results = []domain.Passage{}
	}
	return respond(http.StatusOK, corrID, searchResponse{
		Intent:          out.Result.Intent,
		SearchQuery:     out.Result.SearchQuery,
		Results:         results,
		IndexesSearched: out.IndexesSearched,
	})
}

func (h *Handler) handleRecordTurn(ctx context.Context, event events.APIGatewayProxyRequest, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	var req turnRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
	}

	out, err := h.turns.RecordTurn(ctx, usecase.RecordTurnInput{
		ConversationID: req.ConversationID,
		Role:           req.Role,
		Content:        req.Content,
	})
	if err != nil {
		return errorToResponse(err, corrID, log)
	}
	return respond(http.StatusOK, corrID, turnResponse{
		ConversationID: out.ConversationID,
		Turns:          out.Turns,
	})
}

func (h *Handler) handleListIndexes(ctx context.Context, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	indexes, err := h.search.ListIndexes(ctx)
	if err != nil {
		return errorToResponse(err, corrID, log)
	}
	if indexes == nil {
		indexes = []string{}
	}
	return respond(http.StatusOK, corrID, indexesResponse{Indexes: indexes})
}

// errorToResponse maps the usecase error taxonomy onto HTTP statuses. Unknown
// errors are treated as internal and never leak their message to the caller.
func errorToResponse(err error, corrID string, log *slog.Logger) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error("unexpected error", "err", err)
		return respond(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorEmptyConversation, usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstreamUnavailable, usecase.ErrorMalformedResponse:
		status = http.StatusBadGateway
	}
	if status >= 500 || status == http.StatusBadGateway {
		log.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		log.Warn("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return respond(status, corrID, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

func respond(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(raw),
	}
}

// correlationID returns the caller-supplied correlation ID, matched
// case-insensitively, or mints a new one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func routeMatches(path, route string) bool {
	return path == route || strings.HasSuffix(path, route)
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"booksearch-agent/internal/domain"
)

const (
	defaultSearchTop = 5
	maxSearchTop     = 20
)

type Extractor interface {
	Extract(ctx context.Context, in ExtractInput) (ExtractOutput, error)
}

type SearchBackend interface {
	ListIndexes(ctx context.Context) ([]string, error)
	Search(ctx context.Context, indexName, query string, top int) ([]domain.Passage, error)
}

// SearchService runs the full conversational search flow: extract the intent
// and query from the conversation, pick the indexes to consult, and collect
// ranked passages from the search backend.
type SearchService struct {
	extractor   Extractor
	backend     SearchBackend
	indexPrefix string
}

type SearchInput struct {
	ConversationID string
	Turns          []domain.ConversationTurn
	IndexName      string
	Top            int
}

type SearchOutput struct {
	Result          domain.IntentResult
	Passages        []domain.Passage
	IndexesSearched []string
}

func NewSearchService(extractor Extractor, backend SearchBackend, indexPrefix string) (*SearchService, error) {
	if extractor == nil {
		return nil, errors.New("usecase: extractor must not be nil")
	}
	if backend == nil {
		return nil, errors.New("usecase: search backend must not be nil")
	}
	return &SearchService{
		extractor:   extractor,
		backend:     backend,
		indexPrefix: strings.TrimSpace(indexPrefix),
	}, nil
}

// ListIndexes returns the available book indexes, filtered to the configured
// prefix when one is set.
func (s *SearchService) ListIndexes(ctx context.Context) ([]string, error) {
	names, err := s.backend.ListIndexes(ctx)
	if err != nil {
		return nil, newError(ErrorUpstreamUnavailable, "search_list_indexes_error", err)
	}
	if s.indexPrefix == "" {
		return names, nil
	}
	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if strings.HasPrefix(n, s.indexPrefix) {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

// Search extracts the intent from the conversation and submits the resulting
// query to the search backend. A per-index failure is logged and skipped so
// one broken index does not sink the whole request.
func (s *SearchService) Search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	extracted, err := s.extractor.Extract(ctx, ExtractInput{
		ConversationID: in.ConversationID,
		Turns:          in.Turns,
	})
	if err != nil {
		return SearchOutput{}, err
	}
	query := extracted.Result.SearchQuery

	indexes, err := s.targetIndexes(ctx, in.IndexName, query)
	if err != nil {
		return SearchOutput{}, err
	}

	top := in.Top
	if top <= 0 {
		top = defaultSearchTop
	}
	if top > maxSearchTop {
		top = maxSearchTop
	}

	var passages []domain.Passage
	for _, index := range indexes {
		results, err := s.backend.Search(ctx, index, query, top)
		if err != nil {
			slog.Warn("search index failed", "index", index, "err", err)
			continue
		}
		passages = append(passages, results...)
	}

	return SearchOutput{
		Result:          extracted.Result,
		Passages:        passages,
		IndexesSearched: indexes,
	}, nil
}

// targetIndexes resolves which indexes to search. An explicit index name wins;
// otherwise all available book indexes are used, narrowed to a single index
// when the query names that book.
func (s *SearchService) targetIndexes(ctx context.Context, explicit, query string) ([]string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return []string{explicit}, nil
	}
	available, err := s.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	lowerQuery := strings.ToLower(query)
	for _, index := range available {
		bookName := strings.TrimPrefix(index, s.indexPrefix)
		if bookName != "" && strings.Contains(lowerQuery, strings.ToLower(bookName)) {
			return []string{index}, nil
		}
	}
	return available, nil
}

package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"booksearch-agent/internal/domain"
)

type stubExtractor struct {
	out ExtractOutput
	err error
	in  ExtractInput
}

func (s *stubExtractor) Extract(_ context.Context, in ExtractInput) (ExtractOutput, error) {
	s.in = in
	return s.out, s.err
}

type fakeBackend struct {
	indexes    []string
	listErr    error
	passages   map[string][]domain.Passage
	searchErr  map[string]error
	searched   []string
	lastTop    int
	lastQuery  string
	listCalled int
}

func (f *fakeBackend) ListIndexes(_ context.Context) ([]string, error) {
	f.listCalled++
	return f.indexes, f.listErr
}

func (f *fakeBackend) Search(_ context.Context, indexName, query string, top int) ([]domain.Passage, error) {
	f.searched = append(f.searched, indexName)
	f.lastTop = top
	f.lastQuery = query
	if err, ok := f.searchErr[indexName]; ok {
		return nil, err
	}
	return f.passages[indexName], nil
}

func frankensteinExtractor() *stubExtractor {
	return &stubExtractor{out: ExtractOutput{Result: domain.IntentResult{
		Intent:      "The reader wants the passage where Frankenstein creates the creature.",
		SearchQuery: "Frankenstein creates the creature",
	}}}
}

func TestNewSearchService_ValidatesDependencies(t *testing.T) {
	_, err := NewSearchService(nil, &fakeBackend{}, "classic-")
	require.Error(t, err)
	_, err = NewSearchService(&stubExtractor{}, nil, "classic-")
	require.Error(t, err)
}

func TestSearch_NarrowsToNamedBook(t *testing.T) {
	backend := &fakeBackend{
		indexes: []string{"classic-frankenstein", "classic-dracula"},
		passages: map[string][]domain.Passage{
			"classic-frankenstein": {{ID: "1", Content: "It was on a dreary night of November..."}},
		},
	}
	svc, err := NewSearchService(frankensteinExtractor(), backend, "classic-")
	require.NoError(t, err)

	out, err := svc.Search(context.Background(), SearchInput{
		Turns: []domain.ConversationTurn{{Role: domain.RoleUser, Content: "What happens when Frankenstein creates the creature?"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"classic-frankenstein"}, out.IndexesSearched)
	require.Equal(t, []string{"classic-frankenstein"}, backend.searched)
	require.Len(t, out.Passages, 1)
	require.Equal(t, "Frankenstein creates the creature", backend.lastQuery)
}

func TestSearch_FansOutWhenNoBookNamed(t *testing.T) {
	extractor := &stubExtractor{out: ExtractOutput{Result: domain.IntentResult{
		Intent:      "The reader wants a summary of chapter 5.",
		SearchQuery: "chapter 5",
	}}}
	backend := &fakeBackend{
		indexes: []string{"classic-frankenstein", "classic-dracula"},
		passages: map[string][]domain.Passage{
			"classic-frankenstein": {{ID: "1"}},
			"classic-dracula":      {{ID: "2"}, {ID: "3"}},
		},
	}
	svc, err := NewSearchService(extractor, backend, "classic-")
	require.NoError(t, err)

	out, err := svc.Search(context.Background(), SearchInput{
		Turns: []domain.ConversationTurn{{Role: domain.RoleUser, Content: "Can you summarize chapter 5?"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"classic-frankenstein", "classic-dracula"}, out.IndexesSearched)
	require.Len(t, out.Passages, 3)
}

func TestSearch_ExplicitIndexWins(t *testing.T) {
	backend := &fakeBackend{indexes: []string{"classic-frankenstein", "classic-dracula"}}
	svc, err := NewSearchService(frankensteinExtractor(), backend, "classic-")
	require.NoError(t, err)

	out, err := svc.Search(context.Background(), SearchInput{
		Turns:     []domain.ConversationTurn{{Role: domain.RoleUser, Content: "creature"}},
		IndexName: "classic-dracula",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"classic-dracula"}, out.IndexesSearched)
	require.Zero(t, backend.listCalled, "explicit index skips index discovery")
}

func TestSearch_SkipsFailingIndex(t *testing.T) {
	backend := &fakeBackend{
		indexes:   []string{"classic-moby-dick", "classic-dracula"},
		searchErr: map[string]error{"classic-moby-dick": errors.New("index offline")},
		passages: map[string][]domain.Passage{
			"classic-dracula": {{ID: "2"}},
		},
	}
	extractor := &stubExtractor{out: ExtractOutput{Result: domain.IntentResult{Intent: "x", SearchQuery: "chapter 5"}}}
	svc, err := NewSearchService(extractor, backend, "classic-")
	require.NoError(t, err)

	out, err := svc.Search(context.Background(), SearchInput{
		Turns: []domain.ConversationTurn{{Role: domain.RoleUser, Content: "chapter 5"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Passages, 1)
	require.Equal(t, "2", out.Passages[0].ID)
}

func TestSearch_PropagatesExtractionError(t *testing.T) {
	extractor := &stubExtractor{err: newError(ErrorEmptyConversation, "no_usable_content", nil)}
	backend := &fakeBackend{indexes: []string{"classic-dracula"}}
	svc, err := NewSearchService(extractor, backend, "classic-")
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), SearchInput{})
	requireCode(t, err, ErrorEmptyConversation)
	require.Empty(t, backend.searched)
}

func TestSearch_TopDefaultAndCap(t *testing.T) {
	extractor := &stubExtractor{out: ExtractOutput{Result: domain.IntentResult{Intent: "x", SearchQuery: "chapter 5"}}}
	backend := &fakeBackend{indexes: []string{"classic-dracula"}}
	svc, err := NewSearchService(extractor, backend, "classic-")
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), SearchInput{
		Turns: []domain.ConversationTurn{{Role: domain.RoleUser, Content: "chapter 5"}},
	})
	require.NoError(t, err)
	require.Equal(t, defaultSearchTop, backend.lastTop)

	_, err = svc.Search(context.Background(), SearchInput{
		Turns: []domain.ConversationTurn{{Role: domain.RoleUser, Content: "chapter 5"}},
		Top:   1000,
	})
	require.NoError(t, err)
	require.Equal(t, maxSearchTop, backend.lastTop)
}

func TestListIndexes_FiltersPrefix(t *testing.T) {
	backend := &fakeBackend{indexes: []string{"classic-dracula", "internal-ops", "classic-frankenstein"}}
	svc, err := NewSearchService(&stubExtractor{}, backend, "classic-")
	require.NoError(t, err)

	got, err := svc.ListIndexes(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"classic-dracula", "classic-frankenstein"}, got)
}

func TestListIndexes_BackendError(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("service down")}
	svc, err := NewSearchService(&stubExtractor{}, backend, "classic-")
	require.NoError(t, err)

	_, err = svc.ListIndexes(context.Background())
	requireCode(t, err, ErrorUpstreamUnavailable)
}

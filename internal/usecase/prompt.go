package usecase

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/template"

	"booksearch-agent/internal/domain"
)

// intentPromptText carries the fixed instructions and worked examples for the
// extraction call. It is data, not logic: the only dynamic piece is the
// transcript placeholder.
//
//go:embed intent_prompt.tmpl
var intentPromptText string

var intentPromptTmpl = template.Must(template.New("intent_prompt").Parse(intentPromptText))

const intentSystemPrompt = "You convert book-discussion conversations into retrieval queries. " +
	"Respond with a single JSON object and nothing else."

// defaultFillerPhrases is the built-in denylist of conversational filler that
// must never survive into a search query. Operators can extend it via the
// filler_denylist parameter.
var defaultFillerPhrases = []string{
	"please summarize",
	"can you find",
	"can you",
	"could you",
	"would you",
	"tell me about",
	"show me",
	"find me",
	"look up",
	"summarize",
	"please",
	"for me",
}

type intentResponse struct {
	Intent      string `json:"intent"`
	SearchQuery string `json:"search_query"`
}

// renderTranscript flattens a conversation into role-prefixed lines, one turn
// per line, skipping turns with blank content. Pure formatting, no network.
func renderTranscript(turns []domain.ConversationTurn) string {
	var b strings.Builder
	for _, t := range turns {
		content := strings.Join(strings.Fields(t.Content), " ")
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(content)
	}
	return b.String()
}

// buildPromptMessages renders the extraction prompt for a conversation: a
// short system message plus the templated instructions with the transcript
// substituted in.
func buildPromptMessages(turns []domain.ConversationTurn) ([]domain.ConversationTurn, error) {
	var rendered bytes.Buffer
	err := intentPromptTmpl.Execute(&rendered, struct{ Transcript string }{
		Transcript: renderTranscript(turns),
	})
	if err != nil {
		return nil, fmt.Errorf("usecase: render intent prompt: %w", err)
	}
	return []domain.ConversationTurn{
		{Role: domain.RoleSystem, Content: intentSystemPrompt},
		{Role: domain.RoleUser, Content: rendered.String()},
	}, nil
}

// parseIntentResponse decodes the upstream output as exactly the two-field
// intent structure. Unknown fields, trailing data, and blank fields are all
// rejected so a malformed response never yields a partial result.
func parseIntentResponse(raw string) (intentResponse, error) {
	var out intentResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return intentResponse{}, fmt.Errorf("usecase: decode intent response: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return intentResponse{}, errors.New("usecase: decode intent response: multiple JSON values")
		}
		return intentResponse{}, fmt.Errorf("usecase: decode intent response trailing data: %w", err)
	}
	if strings.TrimSpace(out.Intent) == "" {
		return intentResponse{}, errors.New("usecase: intent response missing intent")
	}
	if strings.TrimSpace(out.SearchQuery) == "" {
		return intentResponse{}, errors.New("usecase: intent response missing search_query")
	}
	return out, nil
}

// compileDenylist builds case-insensitive word-boundary matchers for the
// built-in filler phrases plus any configured extras. Longer phrases compile
// first so "please summarize" is removed before "please" alone would split it.
func compileDenylist(extra []string) []*regexp.Regexp {
	phrases := make([]string, 0, len(defaultFillerPhrases)+len(extra))
	phrases = append(phrases, defaultFillerPhrases...)
	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	// Insertion-sort by descending length; the list is tiny.
	for i := 1; i < len(phrases); i++ {
		for j := i; j > 0 && len(phrases[j]) > len(phrases[j-1]); j-- {
			phrases[j], phrases[j-1] = phrases[j-1], phrases[j]
		}
	}
	res := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		res = append(res, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(p)+`\b`))
	}
	return res
}

// stripFiller removes every denylisted phrase from the query and collapses
// the remaining whitespace and dangling punctuation.
func stripFiller(query string, denylist []*regexp.Regexp) string {
	for _, re := range denylist {
		query = re.ReplaceAllString(query, " ")
	}
	query = strings.Trim(query, " \t\n?.!,;:")
	return strings.Join(strings.Fields(query), " ")
}

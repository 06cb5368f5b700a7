package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"booksearch-agent/internal/domain"
)

func TestRenderTranscript_RolePrefixedLines(t *testing.T) {
	got := renderTranscript([]domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "Who is Elizabeth?"},
		{Role: domain.RoleAssistant, Content: "Victor's adoptive cousin."},
		{Role: domain.RoleUser, Content: "What happens when Frankenstein creates the creature?"},
	})
	require.Equal(t,
		"user: Who is Elizabeth?\n"+
			"assistant: Victor's adoptive cousin.\n"+
			"user: What happens when Frankenstein creates the creature?",
		got)
}

func TestRenderTranscript_SkipsBlankTurns(t *testing.T) {
	got := renderTranscript([]domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "   "},
		{Role: domain.RoleUser, Content: "chapter 5"},
		{Role: domain.RoleAssistant, Content: ""},
	})
	require.Equal(t, "user: chapter 5", got)
}

func TestRenderTranscript_CollapsesInnerWhitespace(t *testing.T) {
	got := renderTranscript([]domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "chapter\n5   please"},
	})
	require.Equal(t, "user: chapter 5 please", got)
}

func TestRenderTranscript_Empty(t *testing.T) {
	require.Equal(t, "", renderTranscript(nil))
}

func TestBuildPromptMessages_EmbedsTranscript(t *testing.T) {
	msgs, err := buildPromptMessages([]domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "Can you summarize chapter 5 for me?"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Equal(t, domain.RoleUser, msgs[1].Role)
	require.Contains(t, msgs[1].Content, "user: Can you summarize chapter 5 for me?")
	// Worked examples must be present to anchor the output shape.
	require.Contains(t, msgs[1].Content, `"search_query": "chapter 5"`)
	require.Contains(t, msgs[1].Content, "Frankenstein creates the creature")
}

func TestParseIntentResponse_HappyPath(t *testing.T) {
	out, err := parseIntentResponse(`{"intent":"The reader wants a summary of chapter 5.","search_query":"chapter 5"}`)
	require.NoError(t, err)
	require.Equal(t, "The reader wants a summary of chapter 5.", out.Intent)
	require.Equal(t, "chapter 5", out.SearchQuery)
}

func TestParseIntentResponse_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"plain prose", "The user seems to want chapter five."},
		{"unknown field", `{"intent":"x","search_query":"y","extra":"z"}`},
		{"missing search_query", `{"intent":"x"}`},
		{"blank search_query", `{"intent":"x","search_query":"  "}`},
		{"blank intent", `{"intent":"","search_query":"y"}`},
		{"multiple values", `{"intent":"x","search_query":"y"}{"intent":"a","search_query":"b"}`},
		{"trailing prose", `{"intent":"x","search_query":"y"} as requested`},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseIntentResponse(tc.raw)
			require.Error(t, err)
		})
	}
}

func TestStripFiller_RemovesDenylistedPhrases(t *testing.T) {
	denylist := compileDenylist(nil)
	cases := []struct {
		in   string
		want string
	}{
		{"please summarize chapter 5", "chapter 5"},
		{"can you find the Cheshire Cat", "the Cheshire Cat"},
		{"Please Summarize chapter 5 for me", "chapter 5"},
		{"Frankenstein creates the creature", "Frankenstein creates the creature"},
		{"chapter 5", "chapter 5"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, stripFiller(tc.in, denylist), "in=%q", tc.in)
	}
}

func TestStripFiller_ExtraPhrases(t *testing.T) {
	denylist := compileDenylist([]string{"give me the rundown on"})
	require.Equal(t, "the whale hunt", stripFiller("give me the rundown on the whale hunt", denylist))
}

func TestStripFiller_AllFillerLeavesEmpty(t *testing.T) {
	denylist := compileDenylist(nil)
	require.Equal(t, "", stripFiller("can you find please", denylist))
}

func TestCompileDenylist_LongestFirst(t *testing.T) {
	denylist := compileDenylist(nil)
	// "please summarize" must be stripped as one phrase, not split by the
	// shorter "please" entry first.
	got := stripFiller("please summarize the storm scene", denylist)
	require.Equal(t, "the storm scene", got)
	require.NotContains(t, strings.ToLower(got), "summarize")
}

package search

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReformulationsBounded(t *testing.T) {
	inputs := []string{
		`'(''covid''' | vaccine)`,
		"What are the effects of covid vaccines on pregnant women?",
		"a & b",
		"",
		"'''''",
	}
	for _, in := range inputs {
		got := Reformulations(in)
		require.LessOrEqual(t, len(got), MaxRepairAttempts)
		seen := map[string]struct{}{}
		for _, q := range got {
			_, dup := seen[q]
			require.False(t, dup, "reformulations must be distinct: %q", q)
			seen[q] = struct{}{}
		}
	}
}

func TestKeywordQueryStripsStopWords(t *testing.T) {
	got := KeywordQuery("What are the effects of covid vaccines?")
	assert.Contains(t, got, "covid")
	assert.Contains(t, got, "effects")
	assert.Contains(t, got, " & ")
	assert.NotContains(t, got, "the")
	assert.NotContains(t, got, "what")
}

func TestKeywordQueryStripsOperators(t *testing.T) {
	got := KeywordQuery(`('covid' | vaccine) & booster`)
	assert.NotContains(t, got, "(")
	assert.NotContains(t, got, "|")
	assert.NotContains(t, got, "'")
}

func TestIsQuerySyntaxError(t *testing.T) {
	assert.False(t, IsQuerySyntaxError(nil))
	assert.False(t, IsQuerySyntaxError(errors.New("connection refused")))
	assert.True(t, IsQuerySyntaxError(&pgconn.PgError{Code: "42601", Message: "syntax error in tsquery"}))
	assert.True(t, IsQuerySyntaxError(errors.New(`ERROR: syntax error in tsquery: "covid &"`)))
}

package search

import (
	"errors"
	"strings"

	"litsearch/internal/util"

	"github.com/jackc/pgx/v5/pgconn"
)

// MaxRepairAttempts bounds the simplification ladder. Each rung is strictly
// simpler than the last; after the final rung the search gives up and reports
// no results instead of looping.
const MaxRepairAttempts = 3

// Reformulations returns up to MaxRepairAttempts progressively simpler
// rewrites of a parser-rejected query, deduplicated and in escalation order:
//
//	1: full repair plus targeted nested-quote fixes
//	2: aggressive quote flattening before repair
//	3: bare stop-word-filtered keywords joined by &
func Reformulations(raw string) []string {
	out := make([]string, 0, MaxRepairAttempts)
	seen := map[string]struct{}{}
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		if _, ok := seen[q]; ok {
			return
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}

	add(repairNestedQuotes(raw))
	add(flattenQuotes(raw))
	add(KeywordQuery(raw))

	if len(out) > MaxRepairAttempts {
		out = out[:MaxRepairAttempts]
	}
	return out
}

// repairNestedQuotes targets quote runs butted against parens before running
// the full repair pipeline.
func repairNestedQuotes(raw string) string {
	q := raw
	q = strings.ReplaceAll(q, `'(`, `(`)
	q = strings.ReplaceAll(q, `)'`, `)`)
	q = strings.ReplaceAll(q, `''`, `'`)
	return RepairQuery(q)
}

// flattenQuotes drops every quote character, keeping only operator structure.
func flattenQuotes(raw string) string {
	q := strings.ReplaceAll(raw, `'`, ` `)
	q = strings.ReplaceAll(q, `"`, ` `)
	return RepairQuery(q)
}

// KeywordQuery reduces a natural-language question to its meaningful tokens
// joined by &. This is the last rung of the ladder.
func KeywordQuery(raw string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '&', '|', '!', '\'', '"':
			return ' '
		}
		return r
	}, raw)
	terms := util.MeaningfulTerms(stripped)
	return strings.Join(terms, " & ")
}

// IsQuerySyntaxError reports whether err is the database rejecting a boolean
// text-search expression, the trigger for the simplification ladder.
func IsQuerySyntaxError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 42601 syntax_error covers tsquery parse failures.
		if pgErr.Code == "42601" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "syntax error in tsquery")
}

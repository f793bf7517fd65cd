package search

import (
	"regexp"
	"strings"
)

// Quote repair works on placeholder runes so that later rules cannot clobber
// spans an earlier rule decided to keep. aposMark protects possessive
// apostrophes inside words; phraseMark brackets phrases that must stay quoted.
const (
	aposMark   = "\x01"
	phraseMark = "\x02"
)

var (
	possessiveRe   = regexp.MustCompile(`([A-Za-z])'(s)\b`)
	repeatQuoteRe  = regexp.MustCompile(`'{2,}`)
	repeatDQuoteRe = regexp.MustCompile(`"{2,}`)
	quotedSpanRe   = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)
	wordAndRe      = regexp.MustCompile(`(?i)\bAND\b`)
	wordOrRe       = regexp.MustCompile(`(?i)\bOR\b`)
	wordNotRe      = regexp.MustCompile(`(?i)\bNOT\b\s*`)
)

// rewriteRule is one named step of the repair pipeline. Order is semantically
// significant: quote protection must run before phrase quoting, operator
// conversion before spacing.
type rewriteRule struct {
	name  string
	apply func(string) string
}

func repairRules() []rewriteRule {
	return []rewriteRule{
		{"collapse-whitespace", collapseWhitespace},
		{"strip-outer-quotes", stripOuterQuotes},
		{"protect-possessives", protectPossessives},
		{"collapse-repeated-quotes", collapseRepeatedQuotes},
		{"protect-quoted-phrases", protectQuotedPhrases},
		{"strip-stray-quotes", stripStrayQuotes},
		{"word-operators", convertWordOperators},
		{"normalize-terms", normalizeTerms},
		{"restore-possessives", restorePossessives},
	}
}

// RepairQuery rewrites a raw boolean search expression into the form the
// text-search parser accepts: balanced single quotes around multi-word or
// hyphenated phrases, `& | !` operators, normalized spacing. Pure and
// idempotent.
func RepairQuery(raw string) string {
	q := raw
	for _, rule := range repairRules() {
		q = rule.apply(q)
	}
	return q
}

func collapseWhitespace(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func stripOuterQuotes(q string) string {
	for len(q) >= 2 {
		first, last := q[0], q[len(q)-1]
		if (first == '\'' || first == '"') && first == last {
			inner := strings.TrimSpace(q[1 : len(q)-1])
			// Only strip when the interior does not contain the same quote,
			// otherwise these are phrase quotes, not wrapping.
			if !strings.ContainsRune(inner, rune(first)) {
				q = inner
				continue
			}
		}
		break
	}
	return q
}

func protectPossessives(q string) string {
	return possessiveRe.ReplaceAllString(q, "${1}"+aposMark+"${2}")
}

func restorePossessives(q string) string {
	return strings.ReplaceAll(q, aposMark, "'")
}

func collapseRepeatedQuotes(q string) string {
	q = repeatQuoteRe.ReplaceAllString(q, "'")
	return repeatDQuoteRe.ReplaceAllString(q, `"`)
}

// protectQuotedPhrases keeps balanced quote pairs that wrap plain terms and
// discards pairs that swallowed operators or parens (artifacts of upstream
// text generation).
func protectQuotedPhrases(q string) string {
	return quotedSpanRe.ReplaceAllStringFunc(q, func(m string) string {
		content := strings.TrimSpace(m[1 : len(m)-1])
		if content == "" {
			return ""
		}
		if strings.ContainsAny(content, "()&|!'\"") {
			return content
		}
		return phraseMark + content + phraseMark
	})
}

func stripStrayQuotes(q string) string {
	q = strings.ReplaceAll(q, "'", "")
	return strings.ReplaceAll(q, `"`, "")
}

// convertWordOperators rewrites natural-language AND/OR/NOT outside protected
// phrases.
func convertWordOperators(q string) string {
	parts := strings.Split(q, phraseMark)
	for i := 0; i < len(parts); i += 2 {
		s := parts[i]
		s = wordAndRe.ReplaceAllString(s, "&")
		s = wordOrRe.ReplaceAllString(s, "|")
		s = wordNotRe.ReplaceAllString(s, "!")
		parts[i] = s
	}
	return strings.Join(parts, phraseMark)
}

// normalizeTerms tokenizes the expression and re-emits it with canonical
// quoting and spacing: multi-word or hyphenated operands quoted, single
// tokens bare, one space around & and |, ! attached to its operand, parens
// tight on the inside.
func normalizeTerms(q string) string {
	tokens := tokenize(q)
	return joinTokens(tokens)
}

type token struct {
	kind string // "op", "open", "close", "term"
	text string
}

func tokenize(q string) []token {
	runes := []rune(q)
	tokens := make([]token, 0, 16)
	words := make([]string, 0, 4)
	flush := func() {
		if len(words) > 0 {
			tokens = append(tokens, token{kind: "term", text: quoteIfNeeded(strings.Join(words, " "))})
			words = words[:0]
		}
	}
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t':
			i++
		case r == '(':
			flush()
			tokens = append(tokens, token{kind: "open", text: "("})
			i++
		case r == ')':
			flush()
			tokens = append(tokens, token{kind: "close", text: ")"})
			i++
		case r == '&' || r == '|' || r == '!':
			flush()
			tokens = append(tokens, token{kind: "op", text: string(r)})
			i++
		case string(r) == phraseMark:
			j := i + 1
			for j < len(runes) && string(runes[j]) != phraseMark {
				j++
			}
			content := strings.TrimSpace(string(runes[i+1 : j]))
			flush()
			if content != "" {
				tokens = append(tokens, token{kind: "term", text: quoteIfNeeded(content)})
			}
			i = j + 1
		default:
			j := i
			for j < len(runes) && !strings.ContainsRune(" \t()&|!"+phraseMark, runes[j]) {
				j++
			}
			words = append(words, string(runes[i:j]))
			i = j
		}
	}
	flush()
	return tokens
}

func joinTokens(tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 && needsSpace(tokens[i-1], t) {
			b.WriteByte(' ')
		}
		b.WriteString(t.text)
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	if prev.kind == "open" {
		return false
	}
	if cur.kind == "close" {
		return false
	}
	if prev.kind == "op" && prev.text == "!" {
		return false
	}
	return true
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, " -") {
		return "'" + s + "'"
	}
	return s
}

package chunk

import (
	"strings"
)

// Snippet builds a short, query-highlighting excerpt from content for
// display in search results, centered on the window with the highest
// query-term density.
func Snippet(content, query string, maxRunes int) string {
	queryTokens := tokenize(query)
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	if len(queryTokens) == 0 {
		return string(runes[:maxRunes]) + "..."
	}

	windowTokens := tokenize(string(runes[:maxRunes]))
	bestStart := 0
	bestScore := -1

	step := maxRunes / 2
	if step == 0 {
		step = 1
	}
	for start := 0; start+maxRunes <= len(runes)+step; start += step {
		end := start + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		score := countMatches(queryTokens, tokenize(window))
		if score > bestScore {
			bestScore = score
			bestStart = start
			windowTokens = tokenize(window)
		}
		if end == len(runes) {
			break
		}
	}
	_ = windowTokens

	end := bestStart + maxRunes
	if end > len(runes) {
		end = len(runes)
	}
	snippet := string(runes[bestStart:end])
	if bestStart > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

func countMatches(queryTokens, windowTokens []string) int {
	set := make(map[string]bool, len(windowTokens))
	for _, t := range windowTokens {
		set[t] = true
	}
	count := 0
	for _, t := range queryTokens {
		if set[t] {
			count++
		}
	}
	return count
}

// tokenize splits text into lowercase alphanumeric terms, filtering common
// English stopwords and anything under 3 characters.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := strings.FieldsFunc(text, func(r rune) bool { return !isAlphanumeric(r) })

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if !isStopword(token) && len(token) > 2 {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
}

func isStopword(token string) bool { return stopwords[token] }

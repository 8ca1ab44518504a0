package analysis

import (
	"strings"
	"unicode/utf8"
)

func buildSystemPrompt() string {
	parts := []string{
		"You are a reviewer for a national research funding committee.",
		"Evaluate the research proposal you are given and return ONLY JSON that matches the JSON Schema provided.",
		"Every score is an integer from 0 to 100.",
		"overall_score reflects the proposal as a whole and should be consistent with the individual scores.",
		"novelty_analysis states whether the work is new for the field and why.",
		"financial_analysis states whether the budget is complete, justified and within typical funding limits, and why.",
		"strengths, weaknesses and recommendations are short sentences. Use an empty list when there is nothing to say.",
		"Write all text fields in English even if the proposal is in another language.",
		"Never output null.",
	}
	return strings.Join(parts, " ")
}

func buildUserPrompt(req Request, maxChars int) (string, bool) {
	text, truncated := truncateRunes(req.Text, maxChars)

	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(req.Title)
	if req.Language != "" {
		b.WriteString("\nDetected language (ISO 639-3): ")
		b.WriteString(req.Language)
	}
	b.WriteString("\n\nProposal text")
	if truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString(":\n")
	b.WriteString(text)
	return b.String(), truncated
}

// truncateRunes cuts s to at most n runes. n <= 0 means no limit.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

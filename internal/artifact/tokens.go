package artifact

import "strings"

// CountTokens approximates the token count of s as its whitespace-separated
// word count.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// TruncateTokens keeps the first limit words of s joined by single spaces.
func TruncateTokens(s string, limit int) string {
	words := strings.Fields(s)
	if len(words) <= limit {
		return s
	}
	return strings.Join(words[:limit], " ")
}

// Tokens returns the token count of the body and all quadrants.
func (a *Artifact) Tokens() int {
	n := CountTokens(a.Body)
	for _, q := range AllQuadrants {
		n += CountTokens(a.Quadrants.Get(q))
	}
	return n
}

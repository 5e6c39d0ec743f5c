package compression

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// topSentences returns the n highest scoring sentences of text in their
// original order. Sentences keep their original words, so the result never
// holds more tokens than text.
func topSentences(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	sentences := splitIntoSentences(text)
	if len(sentences) <= n {
		return sentences
	}

	scores := scoreSentences(sentences)
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	picked := append([]int(nil), order[:n]...)
	sort.Ints(picked)

	out := make([]string, len(picked))
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return out
}

// splitIntoSentences splits text on terminal punctuation followed by
// whitespace. Fragments of ten characters or fewer are merged into the
// following sentence. Splits never fall inside a word.
func splitIntoSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		atBoundary := i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		if (r == '.' || r == '!' || r == '?') && atBoundary {
			sentence := strings.TrimSpace(current.String())
			if len(sentence) > 10 {
				sentences = append(sentences, sentence)
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}

// scoreSentences weights position, length and inverse word frequency.
func scoreSentences(sentences []string) []float64 {
	scores := make([]float64, len(sentences))
	wordFreq := calculateWordFrequency(sentences)

	for i, sentence := range sentences {
		score := 0.0

		// Earlier sentences matter more.
		score += (1.0 / (float64(i) + 1.0)) * 0.3

		// Peak at 20 words.
		words := strings.Fields(sentence)
		lengthScore := math.Min(float64(len(words))/20.0, 1.0)
		if len(words) > 20 {
			lengthScore = math.Max(1.0-(float64(len(words))-20.0)/50.0, 0.1)
		}
		score += lengthScore * 0.4

		freqScore := 0.0
		for _, word := range words {
			if freq, ok := wordFreq[normalizeWord(word)]; ok && freq > 1 {
				freqScore += 1.0 / float64(freq)
			}
		}
		if len(words) > 0 {
			freqScore /= float64(len(words))
		}
		score += freqScore * 0.3

		scores[i] = score
	}
	return scores
}

func calculateWordFrequency(sentences []string) map[string]int {
	freq := make(map[string]int)
	for _, sentence := range sentences {
		for _, word := range strings.Fields(sentence) {
			if w := normalizeWord(word); len(w) > 2 {
				freq[w]++
			}
		}
	}
	return freq
}

func normalizeWord(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

package language

var (
	positiveWords = wordSet(
		"good", "great", "excellent", "amazing", "wonderful", "fantastic",
		"love", "happy", "joy", "smile", "awesome", "nice", "thanks", "glad",
	)
	negativeWords = wordSet(
		"bad", "terrible", "awful", "hate", "sad", "angry",
		"frustrated", "disappointed", "worried", "scared", "sorry", "annoyed",
	)
	negations = wordSet("not", "no", "never", "don't", "didn't", "isn't", "wasn't", "can't")
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Sentiment scores text in [-1, 1] as (pos-neg)/(pos+neg) over lexicon
// hits. A negation directly before a hit flips its polarity. Texts without
// hits score 0.
func Sentiment(text string) float64 {
	var pos, neg int
	negated := false
	for _, tok := range tokenize(text) {
		_, isPos := positiveWords[tok]
		_, isNeg := negativeWords[tok]
		if negated {
			isPos, isNeg = isNeg, isPos
		}
		if isPos {
			pos++
		}
		if isNeg {
			neg++
		}
		_, negated = negations[tok]
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

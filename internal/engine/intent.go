package engine

import "strings"

// Intent is the coarse meaning of a reply to a yes/no question.
type Intent int

const (
	IntentAmbiguous Intent = iota
	IntentAffirmative
	IntentNegative
)

func (i Intent) String() string {
	switch i {
	case IntentAffirmative:
		return "affirmative"
	case IntentNegative:
		return "negative"
	default:
		return "ambiguous"
	}
}

var (
	affirmativePhrases = []string{"yes", "yeah", "sure", "ok", "okay", "call me", "go ahead", "sounds good", "let's do it"}
	negativePhrases    = []string{"no", "nope", "not now", "maybe later", "pass", "no thanks"}
)

// ClassifyIntent matches text against fixed phrase sets by
// case-insensitive containment. Affirmative phrases are checked first.
func ClassifyIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, p := range affirmativePhrases {
		if strings.Contains(lower, p) {
			return IntentAffirmative
		}
	}
	for _, p := range negativePhrases {
		if strings.Contains(lower, p) {
			return IntentNegative
		}
	}
	return IntentAmbiguous
}

// Package keyword classifies recognized speech into response categories.
//
// It is the single home of the farewell vocabulary: callers read the
// Goodbye flag of a Classification instead of matching on their own.
package keyword

import (
	"regexp"
	"strings"

	"virtual-avatar-service/internal/service/conversation"
)

// Classification is the result of classifying one transcript.
type Classification struct {
	// Goodbye is set when the text carries farewell intent. Category is
	// CategoryNone in that case.
	Goodbye  bool
	Category conversation.Category
}

type rule struct {
	pattern  *regexp.Regexp
	goodbye  bool
	category conversation.Category
}

// Evaluated in order; first match wins.
var rules = []rule{
	{pattern: words("goodbye", "bye", "see you", "later", "exit", "quit"), goodbye: true},
	{pattern: words("hello", "hi", "hey", "good morning", "good afternoon"), category: conversation.CategoryGreeting},
	{pattern: words("weather", "today", "rain", "sunny", "hot", "cold", "temperature", "forecast"), category: conversation.CategoryWeather},
}

func words(terms ...string) *regexp.Regexp {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Classify maps text to goodbye intent or a response category. Text that
// matches nothing, including empty text, is GENERAL.
func Classify(text string) Classification {
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return Classification{Goodbye: r.goodbye, Category: r.category}
		}
	}
	return Classification{Category: conversation.CategoryGeneral}
}

// Package intent decides whether a chat message is a calendar request.
package intent

import (
	"strings"
	"unicode"
)

type Intent string

const (
	GeneralChat Intent = "general_chat"
	Calendar    Intent = "calendar"
)

// Rule matches when every AllOf phrase is present and, if AnyOf is set, at
// least one AnyOf phrase is present too.
type Rule struct {
	Name  string
	AllOf []string
	AnyOf []string
}

// DefaultRules is the calendar vocabulary. Misses fall back to general chat,
// so new phrases should stay specific.
var DefaultRules = []Rule{
	{Name: "vocabulary", AnyOf: []string{"schedule", "calendar", "meeting", "appointment", "event"}},
	{Name: "show schedule", AllOf: []string{"show", "schedule"}},
	{Name: "create meeting", AllOf: []string{"create"}, AnyOf: []string{"meeting", "event"}},
	{Name: "am i free", AllOf: []string{"am i free"}},
	{Name: "am i busy", AllOf: []string{"am i busy"}},
	{Name: "when am i available", AllOf: []string{"when am i available"}},
	{Name: "what do i have", AllOf: []string{"what do i have"}, AnyOf: []string{"today", "tomorrow"}},
}

type Decision struct {
	Intent Intent
	Rule   string // name of the matching rule, empty for GeneralChat
}

type Router struct {
	rules []Rule
}

func NewRouter(rules []Rule) *Router {
	if rules == nil {
		rules = DefaultRules
	}
	return &Router{rules: rules}
}

func (r *Router) Classify(message string) Intent {
	return r.Route(message).Intent
}

func (r *Router) Route(message string) Decision {
	text := normalize(message)
	if text == "" {
		return Decision{Intent: GeneralChat}
	}
	for _, rule := range r.rules {
		if rule.matches(text) {
			return Decision{Intent: Calendar, Rule: rule.Name}
		}
	}
	return Decision{Intent: GeneralChat}
}

func (rule Rule) matches(text string) bool {
	if len(rule.AllOf) == 0 && len(rule.AnyOf) == 0 {
		return false
	}
	for _, p := range rule.AllOf {
		if !containsPhrase(text, p) {
			return false
		}
	}
	if len(rule.AnyOf) == 0 {
		return true
	}
	for _, p := range rule.AnyOf {
		if containsPhrase(text, p) {
			return true
		}
	}
	return false
}

// containsPhrase matches whole words; single words may carry a plural "s".
func containsPhrase(text, phrase string) bool {
	phrase = normalize(phrase)
	if phrase == "" {
		return false
	}
	if strings.Contains(text, " "+phrase+" ") {
		return true
	}
	return !strings.Contains(phrase, " ") && strings.Contains(text, " "+phrase+"s ")
}

// normalize lowercases, turns punctuation into spaces and pads with a space
// on each side so phrase lookups can anchor on word boundaries.
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	return " " + strings.Join(fields, " ") + " "
}

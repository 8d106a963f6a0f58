package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	r := NewRouter(nil)

	calendar := []string{
		"What's on my calendar today?",
		"Book a meeting tomorrow at 2 PM titled Standup",
		"any MEETINGS this week",
		"Show me my schedule",
		"create an event for friday",
		"Am I free at 3?",
		"am i busy tomorrow afternoon",
		"When am I available next week?",
		"what do I have tomorrow",
		"I have a dentist appointment",
	}
	for _, msg := range calendar {
		assert.Equal(t, Calendar, r.Classify(msg), msg)
	}

	chat := []string{
		"Explain how B-trees work",
		"",
		"eventually I'd like to learn Go",
		"what do I have to do to learn rust",
		"free me from this bug",
		"create a haiku about autumn",
		"show me a joke",
	}
	for _, msg := range chat {
		assert.Equal(t, GeneralChat, r.Classify(msg), msg)
	}
}

func TestRouteReportsRule(t *testing.T) {
	r := NewRouter(nil)
	assert.Equal(t, Decision{Intent: Calendar, Rule: "am i free"}, r.Route("am I free?"))
	assert.Equal(t, Decision{Intent: GeneralChat}, r.Route("hello"))
}

func TestCustomRules(t *testing.T) {
	r := NewRouter([]Rule{{Name: "agenda", AnyOf: []string{"agenda"}}, {Name: "empty"}})
	assert.Equal(t, Calendar, r.Classify("What's my agenda?"))
	assert.Equal(t, GeneralChat, r.Classify("meeting"))
}

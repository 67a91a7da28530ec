package webhook

import "github.com/stretchr/testify/mock"

// MatchPayload creates a custom matcher for payload arguments in mocks
func MatchPayload(matcher func(Payload) bool) interface{} {
	return mock.MatchedBy(matcher)
}

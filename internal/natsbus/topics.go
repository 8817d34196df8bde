package natsbus

import "strings"

const topicPrefix = "aichat.conversations."

// TopicAllTurns matches the turn topic of every conversation.
const TopicAllTurns = topicPrefix + "*.turns"

func TopicTurns(conversationID string) string {
	return topicPrefix + sanitizeToken(conversationID) + ".turns"
}

// sanitizeToken keeps an ID usable as a single subject token.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

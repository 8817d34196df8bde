package hub

import "github.com/user/aichat/internal/agent"

// ClientMessage is every frame a websocket client may send.
//
//	user_turn  submit Text to ConversationID, creating a Mode conversation when empty
//	history    request the committed turns of ConversationID
//	subscribe  receive turns of ConversationID, or of every conversation when empty
//	cancel     abort this client's running turn on ConversationID
type ClientMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Text           string `json:"text,omitempty"`
}

type ConversationMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
}

type TurnMessage struct {
	Type           string     `json:"type"`
	ConversationID string     `json:"conversation_id"`
	Turn           agent.Turn `json:"turn"`
}

type HistoryMessage struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversation_id"`
	Turns          []agent.Turn `json:"turns"`
}

type ErrorMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type hubBroadcast struct {
	data           []byte
	conversationID string
}

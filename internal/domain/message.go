package domain

import "time"

// FrameTypeChat is the only frame type the chat path interprets.
// Other types travel through the relay untouched.
const FrameTypeChat = "chat"

// ChatMessage is one signaling wire frame. Immutable once created.
// Field names follow the relay wire format, lobbyId included.
type ChatMessage struct {
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	RoomID    RoomID `json:"lobbyId"`
	Type      string `json:"type"`
}

// NewChatMessage stamps a locally composed message for transmission.
func NewChatMessage(text, sender string, room RoomID) ChatMessage {
	return ChatMessage{
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().Format(time.TimeOnly),
		RoomID:    room,
		Type:      FrameTypeChat,
	}
}

// EchoKey identifies a message for self-echo filtering.
// The wire has no message ids, sender+timestamp is the best available key.
func (m ChatMessage) EchoKey() string {
	return m.Sender + "|" + m.Timestamp
}

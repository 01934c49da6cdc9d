package api

import "strings"

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// PrivateChat is a one-to-one conversation between two users.
type PrivateChat struct {
	ID        int64  `json:"id"`
	Username1 string `json:"username1"`
	Username2 string `json:"username2"`
}

// Peer returns the participant that is not username. A chat with oneself
// returns username.
func (c PrivateChat) Peer(username string) string {
	if strings.EqualFold(c.Username1, username) {
		return c.Username2
	}
	return c.Username1
}

// ChatMessage is the JSON body used both by the history endpoint and by the
// realtime private chat destinations.
type ChatMessage struct {
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp,omitempty"`
	GroupID        *int64 `json:"groupId,omitempty"`
	PrivateChatID  int64  `json:"privateChatId,omitempty"`
	SenderID       int64  `json:"senderId,omitempty"`
	SenderUsername string `json:"senderUsername,omitempty"`
}

type clearChatsPayload struct {
	PrivateChatIDs []int64 `json:"privateChatIds"`
}

type groupFromChatsPayload struct {
	PrivateChatIDs []int64 `json:"privateChatIds"`
	GroupName      string  `json:"groupName"`
	Description    string  `json:"description,omitempty"`
}

// BatchResult is the server's answer to operations over several chats.
// AffectedCount is set by clears, GroupID by group creation.
type BatchResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	AffectedCount int    `json:"affectedCount"`
	GroupID       *int64 `json:"groupId,omitempty"`
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vaultchat/internal/logging"
)

// PrivateChatBetween returns the chat between sender and receiver, creating
// it on the server when it does not exist yet.
func (c *Client) PrivateChatBetween(ctx context.Context, sender string, receiver string) (PrivateChat, error) {
	query := url.Values{}
	query.Set("sender", sender)
	query.Set("receiver", receiver)

	var chat PrivateChat
	if err := c.getJSON(ctx, c.endpoints.PrivateChatBetweenURL+"?"+query.Encode(), &chat); err != nil {
		return PrivateChat{}, err
	}
	return chat, nil
}

// PrivateChatMessages returns the chat history in chronological order.
func (c *Client) PrivateChatMessages(ctx context.Context, chatID int64) ([]ChatMessage, error) {
	query := url.Values{}
	query.Set("privateChatId", strconv.FormatInt(chatID, 10))

	messages := []ChatMessage{}
	if err := c.getJSON(ctx, c.endpoints.PrivateChatMessagesURL+"?"+query.Encode(), &messages); err != nil {
		return nil, err
	}
	c.logger.Debug("chat history loaded",
		logging.Field("chat_id", chatID),
		logging.Field("count", len(messages)),
	)
	return messages, nil
}

func (c *Client) UserPrivateChats(ctx context.Context) ([]PrivateChat, error) {
	chats := []PrivateChat{}
	if err := c.getJSON(ctx, c.endpoints.UserChatsURL, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

var (
	ErrNoChats     = errors.New("at least one private chat id is required")
	ErrNoGroupName = errors.New("group name is required")
)

// ClearPrivateChats deletes every message of the given chats. The server
// rejects the whole batch with 403 when the user is not in one of them.
func (c *Client) ClearPrivateChats(ctx context.Context, chatIDs []int64) (BatchResult, error) {
	if len(chatIDs) == 0 {
		return BatchResult{}, ErrNoChats
	}
	var result BatchResult
	if err := c.postJSON(ctx, c.endpoints.ClearChatsURL, clearChatsPayload{PrivateChatIDs: chatIDs}, &result); err != nil {
		return BatchResult{}, fmt.Errorf("clear chats: %w", err)
	}
	c.logger.Info("private chats cleared",
		logging.Field("chats", len(chatIDs)),
		logging.Field("messages", result.AffectedCount),
	)
	return result, nil
}

// CreateGroupFromChats creates a group holding every participant of the
// given chats and returns the result with the new group id.
func (c *Client) CreateGroupFromChats(ctx context.Context, chatIDs []int64, name string, description string) (BatchResult, error) {
	name = strings.TrimSpace(name)
	if len(chatIDs) == 0 {
		return BatchResult{}, ErrNoChats
	}
	if name == "" {
		return BatchResult{}, ErrNoGroupName
	}
	payload := groupFromChatsPayload{
		PrivateChatIDs: chatIDs,
		GroupName:      name,
		Description:    strings.TrimSpace(description),
	}
	var result BatchResult
	if err := c.postJSON(ctx, c.endpoints.GroupFromChatsURL, payload, &result); err != nil {
		return BatchResult{}, fmt.Errorf("create group: %w", err)
	}
	if result.GroupID == nil {
		return BatchResult{}, errors.New("create group: server did not return a group id")
	}
	c.logger.Info("group created from chats",
		logging.Field("group_id", *result.GroupID),
		logging.Field("chats", len(chatIDs)),
	)
	return result, nil
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"vaultchat/internal/api"
	"vaultchat/internal/logging"
	"vaultchat/internal/realtime"
	"vaultchat/internal/runctx"
)

const (
	PrivateSendDestination = "/app/chat.private.send"
	PrivateQueue           = "/user/queue/private"
	GroupSendDestination   = "/app/chat.send"
	groupTopicPrefix       = "/topic/group/"
	contentTypeJSON        = "application/json"
)

var (
	ErrEmptyMessage = errors.New("message content is empty")
	ErrNoChat       = errors.New("private chat id is required")
	ErrNoGroup      = errors.New("group id is required")
)

// GroupTopic is the destination the server fans group messages out to.
func GroupTopic(groupID int64) string {
	return groupTopicPrefix + strconv.FormatInt(groupID, 10)
}

// Conn is the part of realtime.Conn the chat service uses.
type Conn interface {
	Send(channel string, contentType string, body []byte) error
	Subscribe(channel string) (*realtime.Subscription, error)
}

type Service struct {
	conn   Conn
	logger *logging.Logger
}

func NewService(conn Conn, logger *logging.Logger) *Service {
	if logger == nil {
		panic("chat.NewService: logger must not be nil")
	}
	if conn == nil {
		panic("chat.NewService: conn must not be nil")
	}
	return &Service{conn: conn, logger: logger}
}

// SendPrivateMessage publishes msg to the private chat destination. It fails
// with realtime.ErrNotConnected instead of queueing while the link is down.
func (s *Service) SendPrivateMessage(msg api.ChatMessage) error {
	if strings.TrimSpace(msg.Content) == "" {
		return ErrEmptyMessage
	}
	if msg.PrivateChatID <= 0 {
		return ErrNoChat
	}
	if err := s.publish(PrivateSendDestination, msg); err != nil {
		return err
	}
	s.logger.Debug("private message sent", logging.Field("chat_id", msg.PrivateChatID))
	return nil
}

// SendGroupMessage publishes msg to the group destination. msg.GroupID must
// name the group; the server stores it and fans it out to GroupTopic.
func (s *Service) SendGroupMessage(msg api.ChatMessage) error {
	if strings.TrimSpace(msg.Content) == "" {
		return ErrEmptyMessage
	}
	if msg.GroupID == nil || *msg.GroupID <= 0 {
		return ErrNoGroup
	}
	if err := s.publish(GroupSendDestination, msg); err != nil {
		return err
	}
	s.logger.Debug("group message sent", logging.Field("group_id", *msg.GroupID))
	return nil
}

func (s *Service) publish(destination string, msg api.ChatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Send(destination, contentTypeJSON, body)
}

// SubscribePrivateMessages streams decoded private messages until ctx ends
// or the connection is closed. chatID filters to one chat; zero keeps all.
// Bodies that are not valid messages are logged and skipped.
func (s *Service) SubscribePrivateMessages(ctx context.Context, chatID int64) (<-chan api.ChatMessage, error) {
	return s.stream(ctx, PrivateQueue, "private message stream", func(msg *api.ChatMessage) bool {
		return chatID == 0 || msg.PrivateChatID == chatID
	})
}

// SubscribeGroup streams the messages of one group until ctx ends or the
// connection is closed. Messages arrive in the order the server sent them.
func (s *Service) SubscribeGroup(ctx context.Context, groupID int64) (<-chan api.ChatMessage, error) {
	if groupID <= 0 {
		return nil, ErrNoGroup
	}
	return s.stream(ctx, GroupTopic(groupID), "group message stream", func(msg *api.ChatMessage) bool {
		if msg.GroupID == nil {
			msg.GroupID = &groupID
		}
		return *msg.GroupID == groupID
	})
}

func (s *Service) stream(ctx context.Context, channel string, name string, keep func(*api.ChatMessage) bool) (<-chan api.ChatMessage, error) {
	sub, err := s.conn.Subscribe(channel)
	if err != nil {
		return nil, err
	}
	out := make(chan api.ChatMessage)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		runctx.Pump(ctx, name, s.logger, sub.C(), out, func(raw realtime.Message) (api.ChatMessage, bool) {
			var msg api.ChatMessage
			if err := json.Unmarshal(raw.Body, &msg); err != nil {
				s.logger.Warn("dropping undecodable chat message",
					logging.Field("channel", channel),
					logging.Field("message_id", raw.ID),
					logging.Field("error", err),
					logging.Field("payload", logging.FormatHTTPPayload(raw.Body)),
				)
				return msg, false
			}
			return msg, keep(&msg)
		})
	}()
	return out, nil
}

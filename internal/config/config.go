package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	CommandLogin    = "login"
	CommandRegister = "register"
	CommandLogout   = "logout"
	CommandChats    = "chats"
	CommandHistory  = "history"
	CommandListen   = "listen"
	CommandSend     = "send"
	CommandClear    = "clear"
	CommandNewGroup = "group-from-chats"
)

type Options struct {
	BaseURL          string        `long:"base-url" env:"VAULTCHAT_BASE_URL" description:"VaultWeb base URL (e.g. https://vault.example.com)"`
	Username         string        `long:"username" env:"VAULTCHAT_USERNAME" description:"Account username"`
	Debug            bool          `long:"debug" env:"VAULTCHAT_DEBUG" description:"Enable verbose debug output"`
	ReconnectDelay   time.Duration `long:"reconnect-delay" env:"VAULTCHAT_RECONNECT_DELAY" default:"5s" description:"Delay between realtime reconnect attempts"`
	RefreshCollision string        `long:"refresh-collision" env:"VAULTCHAT_REFRESH_COLLISION" choice:"logout" choice:"await" description:"What an unauthorized response does while a token refresh is already running"`
	SessionFile      string        `long:"session-file" env:"VAULTCHAT_SESSION_FILE" description:"Where the session token is stored (default: user config dir)"`
	MetricsAddr      string        `long:"metrics-addr" env:"VAULTCHAT_METRICS_ADDR" description:"Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)"`
	LogFilePersist   bool          `long:"log-file-persist" env:"VAULTCHAT_LOG_FILE_PERSIST" description:"Also write logs as JSONL files in the user config dir"`

	Login    CredentialsCommand `command:"login" description:"Log in and store the session"`
	Register CredentialsCommand `command:"register" description:"Create an account"`
	Logout   struct{}           `command:"logout" description:"End the session"`
	Chats    struct{}           `command:"chats" description:"List private chats"`
	History  HistoryCommand     `command:"history" description:"Print the messages of a private chat"`
	Listen   ListenCommand      `command:"listen" description:"Stream incoming private messages (default)"`
	Send     SendCommand        `command:"send" description:"Send one private or group message"`
	Clear    ClearCommand       `command:"clear" description:"Delete all messages of private chats"`
	NewGroup NewGroupCommand    `command:"group-from-chats" description:"Create a group from the participants of private chats"`

	// Command is the selected subcommand name.
	Command string `no-flag:"true"`
}

type CredentialsCommand struct {
	Password string `long:"password" env:"VAULTCHAT_PASSWORD" description:"Account password"`
}

type HistoryCommand struct {
	ChatID int64 `long:"chat-id" description:"Private chat id"`
}

type ListenCommand struct {
	ChatID      int64   `long:"chat-id" description:"Only show messages of this private chat"`
	GroupIDs    []int64 `long:"group-id" description:"Also stream messages of this group (repeatable)"`
	Interactive bool    `long:"interactive" description:"Send every stdin line to --chat-id, or to the only --group-id"`
}

type SendCommand struct {
	ChatID  int64  `long:"chat-id" description:"Private chat id"`
	GroupID int64  `long:"group-id" description:"Group id, instead of --chat-id"`
	Text    string `long:"text" description:"Message text"`
}

type ClearCommand struct {
	ChatIDs []int64 `long:"chat-id" description:"Private chat id (repeatable)"`
}

type NewGroupCommand struct {
	ChatIDs     []int64 `long:"chat-id" description:"Private chat id whose participants join the group (repeatable)"`
	Name        string  `long:"name" description:"Group name"`
	Description string  `long:"description" description:"Group description"`
}

type APIEndpoints struct {
	BaseURL                string
	LoginURL               string
	RegisterURL            string
	RefreshURL             string
	LogoutURL              string
	PrivateChatBetweenURL  string
	PrivateChatMessagesURL string
	UserChatsURL           string
	ClearChatsURL          string
	GroupFromChatsURL      string
	RealtimeURL            string
}

const realtimePath = "/ws-chat"

func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	opts.Command = CommandListen
	if parser.Active != nil {
		opts.Command = parser.Active.Name
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	switch opts.Command {
	case CommandLogin, CommandRegister:
		if strings.TrimSpace(opts.Username) == "" {
			return errors.New("username is required")
		}
		password := opts.Login.Password
		if opts.Command == CommandRegister {
			password = opts.Register.Password
		}
		if password == "" {
			return errors.New("password is required")
		}
	case CommandHistory:
		if opts.History.ChatID <= 0 {
			return errors.New("chat id is required")
		}
	case CommandSend:
		switch {
		case opts.Send.ChatID > 0 && opts.Send.GroupID > 0:
			return errors.New("chat id and group id are mutually exclusive")
		case opts.Send.ChatID <= 0 && opts.Send.GroupID <= 0:
			return errors.New("chat id or group id is required")
		}
		if strings.TrimSpace(opts.Send.Text) == "" {
			return errors.New("message text is required")
		}
	case CommandListen:
		if !positive(opts.Listen.GroupIDs) {
			return errors.New("group ids must be positive")
		}
		if opts.Listen.Interactive && opts.Listen.ChatID <= 0 && len(opts.Listen.GroupIDs) != 1 {
			return errors.New("interactive mode needs a chat id or a single group id")
		}
	case CommandClear:
		if len(opts.Clear.ChatIDs) == 0 || !positive(opts.Clear.ChatIDs) {
			return errors.New("at least one chat id is required")
		}
	case CommandNewGroup:
		if len(opts.NewGroup.ChatIDs) == 0 || !positive(opts.NewGroup.ChatIDs) {
			return errors.New("at least one chat id is required")
		}
		if strings.TrimSpace(opts.NewGroup.Name) == "" {
			return errors.New("group name is required")
		}
	}
	if opts.ReconnectDelay < 0 {
		return errors.New("reconnect delay must not be negative")
	}
	return nil
}

func positive(ids []int64) bool {
	for _, id := range ids {
		if id <= 0 {
			return false
		}
	}
	return true
}

func BuildEndpoints(rawBaseURL string) (APIEndpoints, error) {
	apiBaseURL, err := buildAPIBaseURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	realtimeURL, err := buildRealtimeURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	return APIEndpoints{
		BaseURL:                apiBaseURL,
		LoginURL:               apiBaseURL + "/auth/login",
		RegisterURL:            apiBaseURL + "/auth/register",
		RefreshURL:             apiBaseURL + "/auth/refresh",
		LogoutURL:              apiBaseURL + "/auth/logout",
		PrivateChatBetweenURL:  apiBaseURL + "/private-chats/between",
		PrivateChatMessagesURL: apiBaseURL + "/private-chats/private",
		UserChatsURL:           apiBaseURL + "/private-chats/user-chats",
		ClearChatsURL:          apiBaseURL + "/private-chats/clear-multiple",
		GroupFromChatsURL:      apiBaseURL + "/private-chats/create-group-from-chats",
		RealtimeURL:            realtimeURL,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return nil, errors.New("base URL scheme must be http or https")
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}

func buildAPIBaseURL(raw string) (string, error) {
	parsed, err := parseBaseURL(raw)
	if err != nil {
		return "", err
	}
	// Normalize any pasted endpoint/path to canonical API base.
	parsed.Path = "/api"
	return strings.TrimRight(parsed.String(), "/"), nil
}

func buildRealtimeURL(raw string) (string, error) {
	parsed, err := parseBaseURL(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "https" {
		parsed.Scheme = "wss"
	} else {
		parsed.Scheme = "ws"
	}
	parsed.Path = realtimePath
	return parsed.String(), nil
}

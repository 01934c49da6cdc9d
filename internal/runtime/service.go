package runtime

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vaultchat/internal/api"
	"vaultchat/internal/app"
	"vaultchat/internal/auth"
	"vaultchat/internal/chat"
	"vaultchat/internal/config"
	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
	"vaultchat/internal/realtime"
)

const defaultHTTPTimeout = 10 * time.Second

type Service interface {
	RunContext(ctx context.Context) error
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}
	policy, err := auth.ParseCollisionPolicy(opts.RefreshCollision)
	if err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("login_url", endpoints.LoginURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
		logging.Field("user_chats_url", endpoints.UserChatsURL),
		logging.Field("realtime_url", endpoints.RealtimeURL),
		logging.Field("refresh_collision", policy.String()),
	)

	sessionPath := strings.TrimSpace(opts.SessionFile)
	if sessionPath == "" {
		sessionPath, err = credential.DefaultSessionPath()
		if err != nil {
			return nil, err
		}
	}
	sessionFile := credential.NewFile(sessionPath)
	store := credential.NewStore()
	if saved, ok, loadErr := sessionFile.Load(); loadErr != nil {
		logger.Warn("ignoring unreadable session file", logging.Field("path", sessionPath), logging.Field("error", loadErr))
	} else if ok {
		store.Set(saved)
		logger.Debug("session restored",
			logging.Field("token", logging.RedactToken(saved.Token)),
			logging.Field("expired", saved.Expired(time.Now())),
		)
	}
	stopMirror := sessionFile.Mirror(store, func(err error) {
		logger.Warn("failed to persist session", logging.Field("path", sessionPath), logging.Field("error", err))
	})

	jar, err := api.NewPersistentJar(filepath.Join(filepath.Dir(sessionPath), "cookies.json"), endpoints.RefreshURL, logger)
	if err != nil {
		stopMirror()
		return nil, err
	}

	session := auth.NewSession(store, auth.NewRefresher(), logger, hooks.Metrics)
	base := hooks.BaseTransport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Timeout:   defaultHTTPTimeout,
		Jar:       jar,
		Transport: auth.NewTransport(base, session, policy, logger, hooks.Metrics),
	}
	apiClient := api.New(httpClient, endpoints, session, logger)
	session.SetRefreshFunc(apiClient.Refresh)

	dialer := hooks.Dialer
	if dialer == nil {
		dialer = realtime.NewStompDialer(endpoints.RealtimeURL, logger)
	}
	conn := realtime.New(dialer, session, logger, realtime.Options{
		ReconnectDelay: opts.ReconnectDelay,
		Metrics:        hooks.Metrics,
	})

	input, output := hooks.Input, hooks.Output
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}
	chatApp := app.New(opts, app.Deps{
		API:    apiClient,
		Conn:   conn,
		Chat:   chat.NewService(conn, logger),
		Input:  input,
		Output: output,
	}, logger, app.Callbacks{
		OnStatusChange: hooks.OnStatus,
		OnLoggedIn:     hooks.OnLoggedIn,
	})

	return &chatService{
		opts:        opts,
		app:         chatApp,
		conn:        conn,
		sessionFile: sessionFile,
		store:       store,
		stopMirror:  stopMirror,
		logger:      logger,
	}, nil
}

type chatService struct {
	opts        config.Options
	app         *app.ChatApp
	conn        *realtime.Conn
	sessionFile *credential.File
	store       *credential.Store
	stopMirror  func()
	logger      *logging.Logger
}

// RunContext runs the configured command. Long running commands also follow
// session changes made by other processes sharing the session file.
func (s *chatService) RunContext(ctx context.Context) error {
	defer s.stopMirror()
	defer func() { _ = s.conn.Close() }()

	if s.opts.Command == config.CommandListen {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := credential.Watch(watchCtx, s.sessionFile, s.store, s.logger); err != nil {
				s.logger.Warn("session file watch stopped", logging.Field("error", err))
			}
		}()
	}
	return s.app.RunContext(ctx)
}

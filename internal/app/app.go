package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vaultchat/internal/api"
	"vaultchat/internal/auth"
	"vaultchat/internal/chat"
	"vaultchat/internal/config"
	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
	"vaultchat/internal/realtime"
	"vaultchat/internal/runctx"
	"vaultchat/internal/runstatus"
)

const connectTimeout = 15 * time.Second

type Deps struct {
	API    *api.Client
	Conn   *realtime.Conn
	Chat   *chat.Service
	Input  io.Reader
	Output io.Writer
}

type Callbacks struct {
	OnStatusChange func(string)
	// OnLoggedIn runs after a successful login with the options used.
	OnLoggedIn func(config.Options)
}

// ChatApp runs one CLI command against the backend.
type ChatApp struct {
	opts    config.Options
	api     *api.Client
	conn    *realtime.Conn
	chat    *chat.Service
	session *auth.Session
	in      io.Reader
	out     *printer
	logger  *logging.Logger
	hooks   Callbacks
	status  runtimeStatusState
}

func New(opts config.Options, deps Deps, logger *logging.Logger, hooks Callbacks) *ChatApp {
	if deps.API == nil || deps.Conn == nil || deps.Chat == nil {
		panic("app.New: api, conn and chat must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	if deps.Output == nil {
		deps.Output = io.Discard
	}
	if deps.Input == nil {
		deps.Input = strings.NewReader("")
	}
	return &ChatApp{
		opts:    opts,
		api:     deps.API,
		conn:    deps.Conn,
		chat:    deps.Chat,
		session: deps.API.Session(),
		in:      deps.Input,
		out:     newPrinter(deps.Output),
		logger:  logger,
		hooks:   hooks,
	}
}

func (a *ChatApp) Run() error {
	return a.RunContext(context.Background())
}

func (a *ChatApp) RunContext(ctx context.Context) error {
	a.logger.Debug("running command", logging.Field("command", a.opts.Command))
	switch a.opts.Command {
	case config.CommandLogin:
		return a.login(ctx)
	case config.CommandRegister:
		return a.register(ctx)
	case config.CommandLogout:
		return a.logout(ctx)
	case config.CommandChats:
		return a.chats(ctx)
	case config.CommandHistory:
		return a.history(ctx)
	case config.CommandSend:
		return a.send(ctx)
	case config.CommandClear:
		return a.clear(ctx)
	case config.CommandNewGroup:
		return a.newGroup(ctx)
	case config.CommandListen, "":
		return a.listen(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, a.opts.Command)
	}
}

func (a *ChatApp) login(ctx context.Context) error {
	if _, err := a.api.Login(ctx, a.opts.Username, a.opts.Login.Password); err != nil {
		if auth.IsUnauthorized(err) {
			return fmt.Errorf("invalid username or password: %w", err)
		}
		return err
	}
	a.out.line("Logged in as " + strings.TrimSpace(a.opts.Username) + ".")
	if a.hooks.OnLoggedIn != nil {
		a.hooks.OnLoggedIn(a.opts)
	}
	return nil
}

func (a *ChatApp) register(ctx context.Context) error {
	if err := a.api.Register(ctx, a.opts.Username, a.opts.Register.Password); err != nil {
		return err
	}
	a.out.line("Account " + strings.TrimSpace(a.opts.Username) + " created. Run login to start a session.")
	return nil
}

func (a *ChatApp) logout(ctx context.Context) error {
	err := a.api.Logout(ctx)
	a.out.line("Logged out.")
	if err != nil {
		a.logger.Warn("server logout failed; local session cleared", logging.Field("error", err))
	}
	return nil
}

func (a *ChatApp) chats(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	chats, err := a.api.UserPrivateChats(ctx)
	if err != nil {
		return a.sessionError(err)
	}
	if len(chats) == 0 {
		a.out.line("No private chats.")
		return nil
	}
	me := a.username()
	for _, chat := range chats {
		a.out.chat(chat, me)
	}
	return nil
}

func (a *ChatApp) history(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	messages, err := a.api.PrivateChatMessages(ctx, a.opts.History.ChatID)
	if err != nil {
		return a.sessionError(err)
	}
	me := a.username()
	for _, msg := range messages {
		a.out.message(msg, me)
	}
	return nil
}

func (a *ChatApp) send(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	return a.sendTo(a.opts.Send.ChatID, a.opts.Send.GroupID, a.opts.Send.Text)
}

// sendTo publishes text to the private chat when chatID is set and to the
// group otherwise.
func (a *ChatApp) sendTo(chatID int64, groupID int64, text string) error {
	msg := a.outgoing(chatID, text)
	if chatID > 0 {
		return a.chat.SendPrivateMessage(msg)
	}
	msg.GroupID = &groupID
	return a.chat.SendGroupMessage(msg)
}

func (a *ChatApp) clear(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	result, err := a.api.ClearPrivateChats(ctx, a.opts.Clear.ChatIDs)
	if err != nil {
		return a.sessionError(err)
	}
	a.out.line(fmt.Sprintf("Cleared %d messages from %d chats.", result.AffectedCount, len(a.opts.Clear.ChatIDs)))
	return nil
}

func (a *ChatApp) newGroup(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	cmd := a.opts.NewGroup
	result, err := a.api.CreateGroupFromChats(ctx, cmd.ChatIDs, cmd.Name, cmd.Description)
	if err != nil {
		return a.sessionError(err)
	}
	a.out.line(fmt.Sprintf("Created group #%d %s.", *result.GroupID, sanitize(cmd.Name)))
	return nil
}

// listen streams private messages, and those of the selected groups, until
// ctx is done or the session ends. In interactive mode every stdin line is
// sent to the selected chat or group.
func (a *ChatApp) listen(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	// A logout in another terminal clears the store without invalidating
	// this session, so both are watched.
	loggedOut := make(chan struct{}, 1)
	signalLoggedOut := func() {
		select {
		case loggedOut <- struct{}{}:
		default:
		}
	}
	stopInvalidated := a.session.OnInvalidated(func(string) { signalLoggedOut() })
	defer stopInvalidated()
	stopCleared := a.session.Store().OnChange(func(_ credential.Credential, present bool) {
		if !present {
			signalLoggedOut()
		}
	})
	defer stopCleared()

	wasConnected := false
	stopStates := a.conn.OnStateChange(func(state realtime.State) {
		a.setRuntimeStatus(runstatus.ForState(state, wasConnected))
		if state == realtime.Connected {
			wasConnected = true
		}
	})
	defer stopStates()

	private, err := a.chat.SubscribePrivateMessages(gctx, a.opts.Listen.ChatID)
	if err != nil {
		return err
	}
	streams := []<-chan api.ChatMessage{private}
	for _, groupID := range a.opts.Listen.GroupIDs {
		stream, err := a.chat.SubscribeGroup(gctx, groupID)
		if err != nil {
			return err
		}
		streams = append(streams, stream)
	}
	if err := a.conn.Connect(gctx); err != nil {
		return a.connectError(err)
	}

	// Streams are merged into one printer; messages closes when every
	// stream has ended.
	messages := make(chan api.ChatMessage)
	var merging sync.WaitGroup
	for i, stream := range streams {
		merging.Add(1)
		go func() {
			defer merging.Done()
			runctx.Pump(gctx, fmt.Sprintf("message merge %d", i), a.logger, stream, messages, func(msg api.ChatMessage) (api.ChatMessage, bool) {
				return msg, true
			})
		}()
	}
	go func() {
		merging.Wait()
		close(messages)
	}()

	me := a.username()
	g.Go(func() error {
		for {
			msg, ok := runctx.RecvOrDone(gctx, "message printer", a.logger, messages)
			if !ok {
				return nil
			}
			a.out.message(msg, me)
		}
	})
	g.Go(func() error {
		if _, ok := runctx.RecvOrDone(gctx, "session watch", a.logger, loggedOut); !ok {
			return nil
		}
		a.setRuntimeStatus(runstatus.LoggedOut)
		_ = a.conn.Close()
		return ErrLoggedOut
	})
	if a.opts.Listen.Interactive {
		g.Go(func() error {
			return a.readInput(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// readInput sends every non-empty stdin line. Reading happens on a separate
// goroutine because a blocked read cannot be interrupted.
func (a *ChatApp) readInput(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			if !runctx.SendOrDone(ctx, "stdin reader", a.logger, lines, scanner.Text()) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			a.logger.Warn("stdin read failed", logging.Field("error", err))
		}
	}()

	for {
		line, ok := runctx.RecvOrDone(ctx, "input sender", a.logger, lines)
		if !ok {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		err := a.sendTo(a.opts.Listen.ChatID, a.interactiveGroup(), line)
		switch {
		case err == nil:
		case errors.Is(err, realtime.ErrNotConnected):
			a.out.statusLine("not connected, message not sent")
		case errors.Is(err, realtime.ErrClosed):
			return nil
		default:
			a.logger.Warn("send failed", logging.Field("error", err))
		}
	}
}

func (a *ChatApp) interactiveGroup() int64 {
	if len(a.opts.Listen.GroupIDs) == 1 {
		return a.opts.Listen.GroupIDs[0]
	}
	return 0
}

func (a *ChatApp) connect(ctx context.Context) error {
	if err := a.conn.Connect(ctx); err != nil {
		return a.connectError(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := a.conn.WaitConnected(waitCtx); err != nil {
		if errors.Is(err, realtime.ErrStopped) && a.session.Token() == "" {
			return ErrLoggedOut
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %w", ErrRealtimeHandshakeTimeout, err)
		}
		return err
	}
	return nil
}

func (a *ChatApp) connectError(err error) error {
	if errors.Is(err, realtime.ErrNoCredential) {
		return ErrNotLoggedIn
	}
	return err
}

func (a *ChatApp) requireSession() error {
	if _, ok := a.session.Store().Get(); !ok {
		return ErrNotLoggedIn
	}
	return nil
}

// sessionError reports a request that ended the session as ErrLoggedOut.
func (a *ChatApp) sessionError(err error) error {
	if auth.IsUnauthorized(err) && a.session.Token() == "" {
		a.setRuntimeStatus(runstatus.LoggedOut)
		return fmt.Errorf("%w: %w", ErrLoggedOut, err)
	}
	return err
}

func (a *ChatApp) outgoing(chatID int64, text string) api.ChatMessage {
	return api.ChatMessage{
		Content:        strings.TrimSpace(text),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		PrivateChatID:  chatID,
		SenderUsername: a.username(),
	}
}

// username prefers the configured name and falls back to the token subject.
func (a *ChatApp) username() string {
	if name := strings.TrimSpace(a.opts.Username); name != "" {
		return name
	}
	cred, _ := a.session.Store().Get()
	return cred.Subject
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (a *ChatApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	if a.hooks.OnStatusChange != nil {
		a.hooks.OnStatusChange(status)
	}
}

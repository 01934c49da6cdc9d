package runtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"vaultchat/internal/config"
	"vaultchat/internal/logging"
	"vaultchat/internal/metrics"
	"vaultchat/internal/realtime"
)

var (
	ErrAlreadyRunning = errors.New("vaultchat is already running")
	errStopRequested  = errors.New("stop requested")
)

// StartHooks carries callbacks and optional overrides. Zero values use the
// process defaults (stdin, stdout, the STOMP dialer, http.DefaultTransport).
type StartHooks struct {
	OnStatus   func(string)
	OnLoggedIn func(config.Options)
	OnExit     func(error)

	Metrics       *metrics.Metrics
	Input         io.Reader
	Output        io.Writer
	Dialer        realtime.Dialer
	BaseTransport http.RoundTripper
}

// Controller runs one command at a time on behalf of a front end and
// remembers the last status and exit error.
type Controller struct {
	rootCtx context.Context

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	done   chan struct{}
	status string
	err    error
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningLocked() {
		return ErrAlreadyRunning
	}

	onStatus := hooks.OnStatus
	hooks.OnStatus = func(status string) {
		c.mu.Lock()
		c.status = status
		c.mu.Unlock()
		if onStatus != nil {
			onStatus(status)
		}
	}
	service, err := NewServiceWithHooks(opts, logger, hooks)
	if err != nil {
		return err
	}
	logger.Debug("command starting", logging.Field("command", opts.Command))

	ctx, cancel := context.WithCancelCause(c.rootCtx)
	done := make(chan struct{})
	c.cancel, c.done, c.status, c.err = cancel, done, "", nil

	go func() {
		defer close(done)
		runErr := service.RunContext(ctx)
		cancel(nil)
		if errors.Is(context.Cause(ctx), errStopRequested) && errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
		logger.Debug("command finished", logging.Field("command", opts.Command), logging.Field("error", runErr))

		c.mu.Lock()
		c.err = runErr
		c.cancel = nil
		c.mu.Unlock()
		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	}()
	return nil
}

func (c *Controller) runningLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel(errStopRequested)
	}
}

// Wait blocks until the current command has finished. A timeout of zero or
// less waits without limit. It reports whether the command finished.
func (c *Controller) Wait(timeout time.Duration) bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningLocked()
}

// Status returns the last status reported by the running or finished
// command.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the exit error of the last finished command.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

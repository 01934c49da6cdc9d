// Package runctx holds channel helpers that give up when a context ends.
package runctx

import (
	"context"

	"vaultchat/internal/logging"
)

// RecvOrDone receives from in. ok is false when ctx ended first or in was
// closed.
func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (v T, ok bool) {
	if logger == nil {
		panic("runctx.RecvOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug(name+" stopped", logging.Field("reason", context.Cause(ctx)))
		return v, false
	case v, ok = <-in:
		if !ok {
			logger.Debug(name+" stopped", logging.Field("reason", "input closed"))
		}
		return v, ok
	}
}

func SendOrDone[T any](ctx context.Context, name string, logger *logging.Logger, out chan<- T, value T) bool {
	if logger == nil {
		panic("runctx.SendOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug(name+" stopped before send", logging.Field("reason", context.Cause(ctx)))
		return false
	case out <- value:
		return true
	}
}

// Pump moves values from in to out through convert until ctx ends or in
// closes. Values for which convert reports false are skipped. Pump does not
// close out.
func Pump[In, Out any](ctx context.Context, name string, logger *logging.Logger, in <-chan In, out chan<- Out, convert func(In) (Out, bool)) {
	for {
		v, ok := RecvOrDone(ctx, name, logger, in)
		if !ok {
			return
		}
		converted, keep := convert(v)
		if !keep {
			continue
		}
		if !SendOrDone(ctx, name, logger, out, converted) {
			return
		}
	}
}

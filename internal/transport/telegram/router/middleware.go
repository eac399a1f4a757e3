package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "newsbot/pkg/logx"
)

// ErrPanic wraps a recovered handler panic.
var ErrPanic = errors.New("handler panicked")

// slowRequest promotes request logs from debug to info.
const slowRequest = 750 * time.Millisecond

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func reqLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// MWTimeout bounds the handler by d. d <= 0 leaves ctx untouched.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				reqLogger(log, req).Error("panic recovered",
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("%w: %v", ErrPanic, rec)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs the outcome. Chat, sender and route come from req.Logger.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			dur := time.Since(start)

			logger := reqLogger(log, req).With(
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", dur),
			)
			switch {
			case err != nil && !isUserError(err):
				logger.Error("request failed", logx.Err(err))
			case dur >= slowRequest:
				logger.Info("request ok")
			default:
				logger.Debug("request ok")
			}
			return err
		}
	}
}

// MWServerError tells the user about failures they were not already told
// about. It must wrap MWPanicRecover so panics are reported too.
func MWServerError(t Transport) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || isUserError(err) || req.Chat.ChatID == 0 {
				return err
			}
			// ctx may be the one that expired.
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if _, serr := t.SendText(nctx, req.Chat, TextServerError, nil); serr != nil {
				reqLogger(logx.Nop(), req).Warn("server error notice not sent", logx.Err(serr))
			}
			return err
		}
	}
}

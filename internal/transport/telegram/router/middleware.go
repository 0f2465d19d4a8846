package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "likebot/pkg/logx"
)

// Middleware wraps a handler. Chain applies the first one outermost.
type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// slowRequest promotes request logs from debug to info.
const slowRequest = 750 * time.Millisecond

// MWTimeout bounds a handler. A non-positive d leaves ctx untouched.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error and tells the user
// the command failed, so one bad update cannot take a worker down.
func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("handler panic",
					logx.String("command", req.Command),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				if req.Adapter != nil && req.Chat.ChatID != 0 {
					_ = req.Reply(ctx, "Internal error. Send /status to check your job.", nil)
				}
				err = fmt.Errorf("router: panic in %q: %v", req.Command, r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs each handled update with its duration.
func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := time.Since(began)

			log := req.Logger.With(
				logx.String("command", req.Command),
				logx.Duration("took", took),
			)
			if err != nil {
				log.Warn("handler failed", logx.Err(err))
				return err
			}
			if took >= slowRequest {
				log.Info("slow handler")
			} else {
				log.Debug("handled")
			}
			return err
		}
	}
}

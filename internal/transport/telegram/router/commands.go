package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"newsbot/internal/broadcast"
	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

const (
	TextStart       = "Hi! I broadcast news to the groups I am a member of. Staff can send me a message to start a broadcast."
	TextServerError = "Server error happened"
	TextNothing     = "Nothing to cancel"
)

// Command is a slash command handled by the router.
type Command struct {
	Name        string
	Description string
	Timeout     time.Duration // 0 means no deadline
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Route   string
	Message *kit.Message
	ReqID   string
	Logger  logx.Logger
}

// isUserError reports errors the user has already been told about.
func isUserError(err error) bool {
	return errors.Is(err, broadcast.ErrUnauthorized) || errors.Is(err, broadcast.ErrNoDestinations)
}

func (r *Router) commands() []Command {
	return []Command{
		{
			Name:        "start",
			Description: "about this bot",
			Timeout:     30 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				_, err := r.t.SendText(ctx, req.Chat, TextStart, nil)
				return err
			},
		},
		{
			Name:        "addstaff",
			Description: "authorize another staff member",
			Timeout:     30 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				return r.onboard.Begin(ctx, req.Message)
			},
		},
		{
			Name:        "cancel",
			Description: "cancel the current action",
			Timeout:     30 * time.Second,
			Handle:      r.cancel,
		},
	}
}

// cancel aborts onboarding first, then a pending broadcast.
func (r *Router) cancel(ctx context.Context, req *Request) error {
	ok, err := r.onboard.Cancel(ctx, req.Message)
	if err != nil || ok {
		return err
	}
	ok, err = r.bcast.Cancel(ctx, req.Chat.ChatID, req.FromID)
	if err != nil || ok {
		return err
	}
	_, err = r.t.SendText(ctx, req.Chat, TextNothing, nil)
	return err
}

// parseCommand returns the command name of a "/name@bot args" message, or ""
// when text is not a command addressed to this bot.
func parseCommand(text, botName string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		if botName != "" && !strings.EqualFold(word[i+1:], botName) {
			return ""
		}
		word = word[:i]
	}
	return strings.ToLower(word)
}

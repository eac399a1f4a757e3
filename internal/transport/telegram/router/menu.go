package router

import (
	"context"
	"slices"
	"strings"
	"time"

	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

// maxCommandLen is Telegram's limit for bot command names.
const maxCommandLen = 32

// sanitizeTelegramCommand maps name onto Telegram's [a-z0-9_]{1,32}.
// Runs of separators collapse to one underscore; other runes are dropped.
func sanitizeTelegramCommand(name string) string {
	parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, p := range parts {
		parts[i] = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, p)
	}
	out := strings.Join(slices.DeleteFunc(parts, func(p string) bool { return p == "" }), "_")
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

func menuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" {
			continue
		}
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = name
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}

// publishMenu pushes the command list when the transport supports it.
func (r *Router) publishMenu(ctx context.Context) {
	up, ok := r.t.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, menuCommands(r.commands())); err != nil {
		r.log.Warn("command menu not updated", logx.Err(err))
	}
}

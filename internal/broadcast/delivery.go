package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
	"newsbot/pkg/tgui"
)

const (
	DefaultRatePerSec    = 20
	DefaultMaxMigrations = 8
)

// ErrMigrationLimit is reported when a destination keeps changing its id
// while a single message is being delivered.
var ErrMigrationLimit = errors.New("destination migration limit exceeded")

// Messenger is the slice of the transport the broadcast flow needs.
type Messenger interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
	CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) error
	ChatTitle(ctx context.Context, chatID int64) (string, error)
}

// Directory is the registry view used by the broadcast flow.
type Directory interface {
	IsStaff(userID int64) bool
	Destinations() []int64
	Migrate(from, to int64) bool
}

type EngineConfig struct {
	// RatePerSec paces copy calls. 0 means DefaultRatePerSec, <0 disables pacing.
	RatePerSec float64
	// MaxMigrations bounds identity changes per message. 0 means
	// DefaultMaxMigrations, <0 means unbounded.
	MaxMigrations int
}

// Outcome summarizes one Deliver call.
type Outcome struct {
	Attempted  int
	Delivered  int
	Failed     int
	Migrations int
	// FailedTargets holds the last known id of every target that failed.
	FailedTargets []int64
}

// Engine copies buffered messages to destinations one at a time.
type Engine struct {
	msgr    Messenger
	dir     Directory
	log     logx.Logger
	metrics *Metrics
	limiter *rate.Limiter

	mu            sync.Mutex
	maxMigrations int
}

func NewEngine(cfg EngineConfig, msgr Messenger, dir Directory, log logx.Logger, m *Metrics) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	e := &Engine{
		msgr:    msgr,
		dir:     dir,
		log:     log.With(logx.String("comp", "delivery")),
		metrics: m,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	e.Apply(cfg)
	return e
}

// Apply swaps pacing and migration bound. Safe while deliveries run.
func (e *Engine) Apply(cfg EngineConfig) {
	limit, burst := rate.Inf, 1
	switch {
	case cfg.RatePerSec == 0:
		limit = rate.Limit(DefaultRatePerSec)
	case cfg.RatePerSec > 0:
		limit = rate.Limit(cfg.RatePerSec)
	}
	e.limiter.SetLimit(limit)
	e.limiter.SetBurst(burst)

	maxMig := cfg.MaxMigrations
	if maxMig == 0 {
		maxMig = DefaultMaxMigrations
	}
	e.mu.Lock()
	e.maxMigrations = maxMig
	e.mu.Unlock()
}

func (e *Engine) migrationBound() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxMigrations
}

// Deliver copies messages (ids in fromChat) to every target in order.
//
// Identity changes are followed and written to the Directory. A rejected
// target is reported to fromChat and skipped. Any other error stops delivery
// and is returned together with the partial outcome.
func (e *Engine) Deliver(ctx context.Context, fromChat int64, targets []int64, messages []int) (Outcome, error) {
	var out Outcome
	for _, target := range targets {
		out.Attempted++
		cur := target
		failed := false

		for _, msgID := range messages {
			next, err := e.copyOne(ctx, fromChat, cur, msgID, &out)
			cur = next
			if err == nil {
				continue
			}
			if errors.Is(err, kit.ErrRejected) || errors.Is(err, ErrMigrationLimit) {
				e.log.Warn("destination failed",
					logx.Int64("chat_id", cur),
					logx.Int64("initial_chat_id", target),
					logx.Int("message_id", msgID),
					logx.Err(err),
				)
				e.notifyFailure(ctx, fromChat, cur, err)
				failed = true
				break
			}
			e.metrics.Targets.WithLabelValues("error").Inc()
			return out, fmt.Errorf("deliver message %d to %d: %w", msgID, cur, err)
		}

		if failed {
			out.Failed++
			out.FailedTargets = append(out.FailedTargets, cur)
			e.metrics.Targets.WithLabelValues("failed").Inc()
			continue
		}
		out.Delivered++
		e.metrics.Targets.WithLabelValues("delivered").Inc()
	}
	return out, nil
}

// copyOne delivers a single message, following identity changes. It returns
// the id the target is known under afterwards.
func (e *Engine) copyOne(ctx context.Context, fromChat, target int64, msgID int, out *Outcome) (int64, error) {
	bound := e.migrationBound()
	hops := 0
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return target, err
		}
		err := e.msgr.CopyMessage(ctx, kit.ChatTarget{ChatID: target}, kit.MessageRef{ChatID: fromChat, MessageID: msgID})
		if err == nil {
			e.metrics.Messages.Inc()
			return target, nil
		}

		var mig *kit.MigratedError
		if !errors.As(err, &mig) || mig.To == 0 || mig.To == target {
			return target, err
		}
		if bound >= 0 && hops >= bound {
			return target, fmt.Errorf("%w: %d hops, last id %d", ErrMigrationLimit, hops, target)
		}
		hops++
		out.Migrations++
		e.metrics.Migrations.Inc()
		e.dir.Migrate(target, mig.To)
		e.log.Info("destination changed id during delivery", logx.Int64("from", target), logx.Int64("to", mig.To))
		target = mig.To
	}
}

func (e *Engine) notifyFailure(ctx context.Context, fromChat, chatID int64, cause error) {
	title, err := e.msgr.ChatTitle(ctx, chatID)
	if err != nil || title == "" {
		title = fmt.Sprintf("%d", chatID)
	}
	text := fmt.Sprintf("Failed to send news to %s. Maybe they blocked sending news from the bot.", tgui.B(title))
	if errors.Is(cause, ErrMigrationLimit) {
		text = fmt.Sprintf("Failed to send news to %s. The chat keeps changing its id.", tgui.B(title))
	}
	if _, err := e.msgr.SendText(ctx, kit.ChatTarget{ChatID: fromChat}, text, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		e.log.Warn("failure notice not sent", logx.Int64("chat_id", fromChat), logx.Err(err))
	}
}

// Package broadcast implements the staff news flow: buffering messages,
// choosing destinations, confirming and delivering.
//
// Transitions live in Step; Service owns the sessions and carries out the
// effects against the transport.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"newsbot/internal/eventbus"
	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

var (
	ErrUnauthorized   = errors.New("not authorized")
	ErrNoDestinations = errors.New("no destinations")
)

type Service struct {
	msgr     Messenger
	dir      Directory
	engine   *Engine
	sessions *Sessions
	log      logx.Logger
	bus      eventbus.Bus
	metrics  *Metrics
}

type Options struct {
	Engine  EngineConfig
	Log     logx.Logger
	Bus     eventbus.Bus
	Metrics *Metrics
}

func NewService(msgr Messenger, dir Directory, opt Options) *Service {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Metrics == nil {
		opt.Metrics = NewMetrics(nil)
	}
	return &Service{
		msgr:     msgr,
		dir:      dir,
		engine:   NewEngine(opt.Engine, msgr, dir, opt.Log, opt.Metrics),
		sessions: NewSessions(),
		log:      opt.Log.With(logx.String("comp", "broadcast")),
		bus:      opt.Bus,
		metrics:  opt.Metrics,
	}
}

func (s *Service) Engine() *Engine { return s.engine }

func (s *Service) Sessions() *Sessions { return s.sessions }

// HandleMessage treats m as broadcast content. The returned error is one of
// ErrUnauthorized or ErrNoDestinations (after the user was told) or a
// transport failure.
func (s *Service) HandleMessage(ctx context.Context, m *kit.Message) error {
	if m == nil {
		return nil
	}
	key := Key{ChatID: m.ChatID, UserID: m.FromID}
	ev := MessageReceived{
		MessageID:       m.ID,
		Staff:           s.dir.IsStaff(m.FromID),
		HasDestinations: len(s.dir.Destinations()) > 0,
	}
	// Strangers only get the refusal; they never get a stored session.
	sess := &session{}
	if ev.Staff {
		sess = s.sessions.get(key)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.step(ctx, key, sess, ev); err != nil {
		return err
	}
	switch {
	case !ev.Staff:
		return ErrUnauthorized
	case !ev.HasDestinations:
		return ErrNoDestinations
	}
	return nil
}

// HandleCallback applies an inline button press. It returns the text to show
// in the callback answer (may be empty).
func (s *Service) HandleCallback(ctx context.Context, cb *kit.Callback) (string, error) {
	if cb == nil {
		return "", nil
	}
	if !s.dir.IsStaff(cb.FromID) {
		return TextNotAuthorized, ErrUnauthorized
	}
	act, err := ParseAction(cb.Data)
	if err != nil {
		s.log.Debug("ignoring callback", logx.String("data", cb.Data), logx.Err(err))
		return "", nil
	}

	key := Key{ChatID: cb.ChatID, UserID: cb.FromID}
	sess := s.sessions.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ev := ActionChosen{
		Action: act,
		Ref:    kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID},
	}
	if act.Kind == ActionConfirm {
		ev.Destinations = s.dir.Destinations()
	}
	stale := len(sess.state.Messages) == 0 || (!sess.state.UI.IsZero() && sess.state.UI != ev.Ref)
	if err := s.step(ctx, key, sess, ev); err != nil {
		return "", err
	}
	if stale {
		return TextExpired, nil
	}
	return "", nil
}

// Cancel aborts a pending broadcast. It reports whether there was one.
func (s *Service) Cancel(ctx context.Context, chatID, userID int64) (bool, error) {
	key := Key{ChatID: chatID, UserID: userID}
	sess, ok := s.sessions.lookup(key)
	if !ok {
		return false, nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state.Phase == PhaseIdle && len(sess.state.Messages) == 0 {
		return false, nil
	}
	return true, s.step(ctx, key, sess, CancelRequested{})
}

// step runs one transition and its effects. Caller holds sess.mu.
func (s *Service) step(ctx context.Context, key Key, sess *session, ev Event) error {
	prev := sess.state.Phase
	next, effects := Step(sess.state, ev)
	sess.state = next
	if prev != next.Phase {
		s.log.Debug("session transition",
			logx.Int64("user_id", key.UserID),
			logx.String("from", prev.String()),
			logx.String("to", next.Phase.String()),
		)
	}
	for _, eff := range effects {
		if err := s.apply(ctx, key, sess, eff); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) apply(ctx context.Context, key Key, sess *session, eff Effect) error {
	switch eff := eff.(type) {
	case Reply:
		_, err := s.msgr.SendText(ctx, kit.ChatTarget{ChatID: key.ChatID}, eff.Text, &kit.SendOptions{ReplyTo: eff.ReplyTo})
		return err

	case DeleteUI:
		// The old menu may already be gone or too old to delete.
		if err := s.msgr.DeleteMessage(ctx, eff.Ref); err != nil {
			s.log.Debug("stale menu not deleted", logx.Int("message_id", eff.Ref.MessageID), logx.Err(err))
		}
		return nil

	case PostSelector:
		ref, err := s.postSelector(ctx, key.ChatID, eff.ReplyTo, eff.Selection)
		if err != nil {
			return fmt.Errorf("post selector: %w", err)
		}
		return s.step(ctx, key, sess, UIPosted{Ref: ref})

	case EditSelector:
		return s.editSelector(ctx, eff.Ref, eff.Selection)

	case EditConfirm:
		return s.editConfirm(ctx, eff.Ref)

	case EditNotice:
		return s.msgr.EditText(ctx, eff.Ref, eff.Text, nil)

	case AnswerStale:
		if err := s.msgr.EditText(ctx, eff.Ref, TextExpired, nil); err != nil {
			s.log.Debug("stale menu not updated", logx.Int("message_id", eff.Ref.MessageID), logx.Err(err))
		}
		return nil

	case Deliver:
		return s.deliver(ctx, key, sess, eff)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, key Key, sess *session, eff Deliver) error {
	s.log.Info("broadcast confirmed",
		logx.Int64("user_id", key.UserID),
		logx.Int("targets", len(eff.Targets)),
		logx.Int("messages", len(eff.Messages)),
	)
	out, derr := s.engine.Deliver(ctx, key.ChatID, eff.Targets, eff.Messages)

	result := "ok"
	if derr != nil {
		result = "error"
	}
	s.metrics.Broadcasts.WithLabelValues(result).Inc()
	s.log.Info("broadcast finished",
		logx.Int64("user_id", key.UserID),
		logx.Int("attempted", out.Attempted),
		logx.Int("delivered", out.Delivered),
		logx.Int("failed", out.Failed),
		logx.Int("migrations", out.Migrations),
		logx.Err(derr),
	)
	eventbus.Emit(s.bus, eventbus.TypeBroadcastDone, eventbus.BroadcastSummary{
		InitiatorID: key.UserID,
		Targets:     len(eff.Targets),
		Delivered:   out.Delivered,
		Failed:      out.Failed,
		Migrations:  out.Migrations,
	})

	if err := s.step(ctx, key, sess, DeliveryFinished{Attempted: out.Attempted, Err: derr}); err != nil && derr == nil {
		return err
	}
	return derr
}

package onboarding

import (
	"context"
	"sync"

	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

// Directory is the registry view onboarding needs.
type Directory interface {
	IsStaff(userID int64) bool
	AddStaff(userID int64) bool
}

type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type key struct {
	chatID int64
	userID int64
}

type conversation struct {
	mu    sync.Mutex
	state State
}

// Service keeps one conversation per user and chat. Finished conversations
// are dropped.
type Service struct {
	dir   Directory
	reply Replier
	log   logx.Logger

	mu    sync.Mutex
	convs map[key]*conversation
}

func NewService(dir Directory, reply Replier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		dir:   dir,
		reply: reply,
		log:   log.With(logx.String("comp", "onboarding")),
		convs: map[key]*conversation{},
	}
}

// Begin handles /addstaff.
func (s *Service) Begin(ctx context.Context, m *kit.Message) error {
	_, err := s.feed(ctx, m, Begin{Staff: s.dir.IsStaff(m.FromID)})
	return err
}

// Active reports whether the user is in the middle of onboarding.
func (s *Service) Active(chatID, userID int64) bool {
	s.mu.Lock()
	c, ok := s.convs[key{chatID, userID}]
	s.mu.Unlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.AwaitingContact
}

// HandleMessage feeds a message into an active conversation. It reports
// whether the message was consumed.
func (s *Service) HandleMessage(ctx context.Context, m *kit.Message) (bool, error) {
	var in Input = Other{}
	if m.Contact != nil {
		in = ContactShared{UserID: m.Contact.UserID}
	}
	return s.feed(ctx, m, in)
}

// Cancel aborts an active conversation and reports whether there was one.
func (s *Service) Cancel(ctx context.Context, m *kit.Message) (bool, error) {
	return s.feed(ctx, m, Abort{})
}

func (s *Service) feed(ctx context.Context, m *kit.Message, in Input) (bool, error) {
	k := key{m.ChatID, m.FromID}
	c := s.conversation(k)
	c.mu.Lock()
	defer c.mu.Unlock()

	next, res := Step(c.state, in)
	c.state = next
	if !next.AwaitingContact {
		s.drop(k, c)
	}
	if !res.Handled {
		return false, nil
	}

	if res.AddStaff != 0 {
		added := s.dir.AddStaff(res.AddStaff)
		s.log.Info("staff onboarded",
			logx.Int64("by", m.FromID),
			logx.Int64("user_id", res.AddStaff),
			logx.Bool("new", added),
		)
	}
	if res.Reply == "" {
		return true, nil
	}
	_, err := s.reply.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, res.Reply, &kit.SendOptions{ReplyTo: m.ID})
	return true, err
}

func (s *Service) conversation(k key) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[k]
	if !ok {
		c = &conversation{}
		s.convs[k] = c
	}
	return c
}

func (s *Service) drop(k key, c *conversation) {
	s.mu.Lock()
	if s.convs[k] == c {
		delete(s.convs, k)
	}
	s.mu.Unlock()
}

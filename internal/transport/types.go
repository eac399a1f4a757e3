package transport

import "context"

type UpdateKind string

const (
	UpdateMessage   UpdateKind = "message"
	UpdateCallback  UpdateKind = "callback"
	UpdateMember    UpdateKind = "member"
	UpdateMigration UpdateKind = "migration"
)

type Update struct {
	Kind      UpdateKind
	Message   *Message
	Callback  *Callback
	Member    *MemberEvent
	Migration *Migration
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Private      bool
	HasMedia     bool     // photo, video, document, ... (anything copyable besides text)
	Contact      *Contact // non-nil when the message is a shared contact
}

// Contact is a shared phone contact. UserID is 0 when the contact
// does not belong to a Telegram account.
type Contact struct {
	UserID    int64
	FirstName string
	Phone     string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// MemberEvent reports chat membership changes. Self is true when the member
// that joined/left is the bot itself.
type MemberEvent struct {
	ChatID int64
	UserID int64
	Joined bool
	Self   bool
}

// Migration reports that a group chat was upgraded and now lives under a new id.
type Migration struct {
	From int64
	To   int64
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

func (r MessageRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyTo            int // message id in the target chat (0 = none)
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	// CopyMessage re-posts an existing message into another chat without a
	// "forwarded from" header.
	CopyMessage(ctx context.Context, to ChatTarget, from MessageRef) error
	ChatTitle(ctx context.Context, chatID int64) (string, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

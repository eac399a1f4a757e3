package eventbus

// Event types published by the registry and the broadcast flow.
const (
	TypeSubscribed    = "registry.subscribed"
	TypeUnsubscribed  = "registry.unsubscribed"
	TypeMigrated      = "registry.migrated"
	TypeStaffAdded    = "registry.staff_added"
	TypeFlushed       = "registry.flushed"
	TypeFlushFailed   = "registry.flush_failed"
	TypeBroadcastDone = "broadcast.delivered"
)

// DestinationChange is the payload of subscribe/unsubscribe/migrate events.
type DestinationChange struct {
	ChatID    int64 `json:"chat_id"`
	NewChatID int64 `json:"new_chat_id,omitempty"`
}

// BroadcastSummary is the payload of TypeBroadcastDone.
type BroadcastSummary struct {
	InitiatorID int64 `json:"initiator_id"`
	Targets     int   `json:"targets"`
	Delivered   int   `json:"delivered"`
	Failed      int   `json:"failed"`
	Migrations  int   `json:"migrations"`
}

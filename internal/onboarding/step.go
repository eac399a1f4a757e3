// Package onboarding runs the short /addstaff conversation.
package onboarding

// State of one conversation. The zero value is Idle.
type State struct {
	AwaitingContact bool
}

type Input interface{ isInput() }

// Begin is /addstaff.
type Begin struct{ Staff bool }

// ContactShared carries the shared contact's Telegram user id (0 if none).
type ContactShared struct{ UserID int64 }

// Other is any non-contact, non-command message.
type Other struct{}

// Abort is /cancel.
type Abort struct{}

func (Begin) isInput()         {}
func (ContactShared) isInput() {}
func (Other) isInput()         {}
func (Abort) isInput()         {}

const (
	TextNotAuthorized = "You are not authorized to add staff"
	TextAskContact    = "Send me a staff member contact"
	TextRetry         = "Please send a staff member contact"
	TextAdded         = "Staff member successfully added!"
	TextCancelled     = "Cancelled"
)

// Result is what the caller must do after a step.
type Result struct {
	Reply    string
	AddStaff int64 // non-zero: append to the staff set
	// Handled is false when the input does not belong to this conversation
	// and should fall through to other handlers.
	Handled bool
}

func Step(s State, in Input) (State, Result) {
	switch in := in.(type) {
	case Begin:
		if !in.Staff {
			return s, Result{Reply: TextNotAuthorized, Handled: true}
		}
		return State{AwaitingContact: true}, Result{Reply: TextAskContact, Handled: true}

	case ContactShared:
		if !s.AwaitingContact {
			return s, Result{}
		}
		if in.UserID == 0 {
			return s, Result{Reply: TextRetry, Handled: true}
		}
		return State{}, Result{Reply: TextAdded, AddStaff: in.UserID, Handled: true}

	case Other:
		if !s.AwaitingContact {
			return s, Result{}
		}
		return s, Result{Reply: TextRetry, Handled: true}

	case Abort:
		if !s.AwaitingContact {
			return s, Result{}
		}
		return State{}, Result{Reply: TextCancelled, Handled: true}
	}
	return s, Result{}
}

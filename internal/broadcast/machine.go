package broadcast

import (
	"slices"

	kit "newsbot/internal/transport"
)

type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseConfirmingAll
	PhaseConfirmingSelected
	PhaseDelivering
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelecting:
		return "selecting"
	case PhaseConfirmingAll:
		return "confirming_all"
	case PhaseConfirmingSelected:
		return "confirming_selected"
	case PhaseDelivering:
		return "delivering"
	default:
		return "unknown"
	}
}

func (p Phase) confirming() bool {
	return p == PhaseConfirmingAll || p == PhaseConfirmingSelected
}

type Mode uint8

const (
	ModeUnset Mode = iota
	ModeToSelected
	ModeToAll
)

// State is one initiator's broadcast conversation.
//
// Messages are message ids in the initiator's chat, in arrival order.
// Selection keeps toggle order. UI is the live selector/confirmation message;
// the zero ref means none.
type State struct {
	Phase     Phase
	Messages  []int
	Selection []int64
	Mode      Mode
	UI        kit.MessageRef
}

func (s State) Selected(id int64) bool { return slices.Contains(s.Selection, id) }

// Event is an input to Step.
type Event interface{ isEvent() }

type MessageReceived struct {
	MessageID       int
	Staff           bool
	HasDestinations bool
}

// UIPosted reports the ref of a selector message posted for PostSelector.
type UIPosted struct {
	Ref kit.MessageRef
}

// ActionChosen is a button press on Ref. Destinations is the registry's
// current destination list, used to resolve "send to all".
type ActionChosen struct {
	Action       Action
	Ref          kit.MessageRef
	Destinations []int64
}

// DeliveryFinished reports the engine result for a Deliver effect.
type DeliveryFinished struct {
	Attempted int
	Err       error
}

type CancelRequested struct{}

func (MessageReceived) isEvent()  {}
func (UIPosted) isEvent()         {}
func (ActionChosen) isEvent()     {}
func (DeliveryFinished) isEvent() {}
func (CancelRequested) isEvent()  {}

// Effect is an output of Step, carried out by Service in order.
type Effect interface{ isEffect() }

// Reply sends Text to the initiator, quoting ReplyTo when non-zero.
type Reply struct {
	Text    string
	ReplyTo int
}

type DeleteUI struct{ Ref kit.MessageRef }

// PostSelector posts a new selector message as a reply to ReplyTo.
type PostSelector struct {
	ReplyTo   int
	Selection []int64
}

type EditSelector struct {
	Ref       kit.MessageRef
	Selection []int64
}

type EditConfirm struct{ Ref kit.MessageRef }

// EditNotice replaces the UI message with Text and drops its keyboard.
type EditNotice struct {
	Ref  kit.MessageRef
	Text string
}

type Deliver struct {
	Targets  []int64
	Messages []int
}

// AnswerStale marks Ref as a UI message that no longer belongs to a live session.
type AnswerStale struct{ Ref kit.MessageRef }

func (Reply) isEffect()        {}
func (DeleteUI) isEffect()     {}
func (PostSelector) isEffect() {}
func (EditSelector) isEffect() {}
func (EditConfirm) isEffect()  {}
func (EditNotice) isEffect()   {}
func (Deliver) isEffect()      {}
func (AnswerStale) isEffect()  {}

// User-facing texts.
const (
	TextNotAuthorized  = "You are not authorized to broadcast news"
	TextNoDestinations = "No groups to broadcast news to!"
	TextChooseGroups   = "Send more messages or choose groups to broadcast news to:"
	TextConfirm        = "Do you confirm sending news?"
	TextCancelled      = "News broadcast cancelled"
	TextSucceeded      = "News have been successfully broadcasted!"
	TextInterrupted    = "News broadcast interrupted by an error. Messages already sent were not recalled."
	TextExpired        = "This broadcast menu has expired"
)

// Step is the broadcast transition function. It never writes to the slices
// of s.
func Step(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case MessageReceived:
		return onMessage(s, ev)
	case UIPosted:
		s.UI = ev.Ref
		return s, nil
	case ActionChosen:
		return onAction(s, ev)
	case DeliveryFinished:
		return onDelivered(s, ev)
	case CancelRequested:
		if s.Phase == PhaseIdle && len(s.Messages) == 0 {
			return s, nil
		}
		if s.UI.IsZero() {
			return State{}, []Effect{Reply{Text: TextCancelled}}
		}
		return State{}, []Effect{EditNotice{Ref: s.UI, Text: TextCancelled}}
	default:
		return s, nil
	}
}

func onMessage(s State, ev MessageReceived) (State, []Effect) {
	if !ev.Staff {
		return s, []Effect{Reply{Text: TextNotAuthorized, ReplyTo: ev.MessageID}}
	}
	if !ev.HasDestinations {
		return s, []Effect{Reply{Text: TextNoDestinations, ReplyTo: ev.MessageID}}
	}

	var effects []Effect
	if !s.UI.IsZero() {
		effects = append(effects, DeleteUI{Ref: s.UI})
	}
	next := State{
		Phase:     PhaseSelecting,
		Messages:  append(slices.Clone(s.Messages), ev.MessageID),
		Selection: slices.Clone(s.Selection),
		Mode:      ModeUnset,
	}
	effects = append(effects, PostSelector{ReplyTo: ev.MessageID, Selection: slices.Clone(next.Selection)})
	return next, effects
}

func onAction(s State, ev ActionChosen) (State, []Effect) {
	if len(s.Messages) == 0 || (!s.UI.IsZero() && ev.Ref != s.UI) {
		return s, []Effect{AnswerStale{Ref: ev.Ref}}
	}

	switch ev.Action.Kind {
	case ActionSelect:
		if s.Phase != PhaseSelecting {
			return s, nil
		}
		s.Selection = toggle(s.Selection, ev.Action.Dest)
		return s, []Effect{EditSelector{Ref: ev.Ref, Selection: slices.Clone(s.Selection)}}

	case ActionCancel:
		return State{}, []Effect{EditNotice{Ref: ev.Ref, Text: TextCancelled}}

	case ActionSendToAll:
		if s.Phase != PhaseSelecting {
			return s, nil
		}
		s.Phase, s.Mode = PhaseConfirmingAll, ModeToAll
		return s, []Effect{EditConfirm{Ref: ev.Ref}}

	case ActionSend:
		if s.Phase != PhaseSelecting {
			return s, nil
		}
		if len(s.Selection) == 0 {
			return s, []Effect{EditSelector{Ref: ev.Ref, Selection: nil}}
		}
		s.Phase, s.Mode = PhaseConfirmingSelected, ModeToSelected
		return s, []Effect{EditConfirm{Ref: ev.Ref}}

	case ActionConfirmBack:
		if !s.Phase.confirming() {
			return s, nil
		}
		s.Phase, s.Mode = PhaseSelecting, ModeUnset
		return s, []Effect{EditSelector{Ref: ev.Ref, Selection: slices.Clone(s.Selection)}}

	case ActionConfirm:
		if !s.Phase.confirming() {
			return s, nil
		}
		targets := slices.Clone(s.Selection)
		if s.Mode == ModeToAll {
			targets = slices.Clone(ev.Destinations)
		}
		s.Phase = PhaseDelivering
		s.UI = ev.Ref
		return s, []Effect{Deliver{Targets: targets, Messages: slices.Clone(s.Messages)}}
	}
	return s, nil
}

func onDelivered(s State, ev DeliveryFinished) (State, []Effect) {
	if s.Phase != PhaseDelivering {
		return s, nil
	}
	text := TextSucceeded
	switch {
	case ev.Err != nil:
		text = TextInterrupted
	case ev.Attempted == 0:
		text = TextNoDestinations
	}
	if s.UI.IsZero() {
		return State{}, []Effect{Reply{Text: text}}
	}
	return State{}, []Effect{EditNotice{Ref: s.UI, Text: text}}
}

func toggle(sel []int64, id int64) []int64 {
	out := slices.Clone(sel)
	if i := slices.Index(out, id); i >= 0 {
		return slices.Delete(out, i, i+1)
	}
	return append(out, id)
}

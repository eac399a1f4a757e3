package broadcast

import (
	"fmt"
	"strconv"
	"strings"

	"newsbot/pkg/tgui"
)

// ActionKind enumerates the inline keyboard actions of the broadcast flow.
type ActionKind uint8

const (
	ActionSelect ActionKind = iota + 1
	ActionCancel
	ActionSendToAll
	ActionSend
	ActionConfirmBack
	ActionConfirm
)

// Callback payloads. A destination toggle carries the bare chat id instead.
const (
	dataCancel      = "cancel"
	dataSendToAll   = "send_to_all"
	dataSend        = "send"
	dataConfirmBack = "confirm-back"
	dataConfirm     = "confirm-confirm"
)

// Action is a parsed callback payload. Dest is set only for ActionSelect.
type Action struct {
	Kind ActionKind
	Dest int64
}

func (k ActionKind) String() string {
	switch k {
	case ActionSelect:
		return "select"
	case ActionCancel:
		return dataCancel
	case ActionSendToAll:
		return dataSendToAll
	case ActionSend:
		return dataSend
	case ActionConfirmBack:
		return dataConfirmBack
	case ActionConfirm:
		return dataConfirm
	default:
		return "unknown"
	}
}

// ParseAction decodes callback data. Unknown payloads are an error.
func ParseAction(data string) (Action, error) {
	if err := tgui.CheckData(data); err != nil {
		return Action{}, err
	}
	data = strings.TrimSpace(data)
	switch data {
	case dataCancel:
		return Action{Kind: ActionCancel}, nil
	case dataSendToAll:
		return Action{Kind: ActionSendToAll}, nil
	case dataSend:
		return Action{Kind: ActionSend}, nil
	case dataConfirmBack:
		return Action{Kind: ActionConfirmBack}, nil
	case dataConfirm:
		return Action{Kind: ActionConfirm}, nil
	}
	id, err := strconv.ParseInt(data, 10, 64)
	if err != nil || id == 0 {
		return Action{}, fmt.Errorf("unknown callback payload %q", data)
	}
	return Action{Kind: ActionSelect, Dest: id}, nil
}

// Data encodes the action back into callback data.
func (a Action) Data() string {
	if a.Kind == ActionSelect {
		return strconv.FormatInt(a.Dest, 10)
	}
	return a.Kind.String()
}

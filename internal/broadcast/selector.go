package broadcast

import (
	"context"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "newsbot/internal/transport"
	"newsbot/pkg/tgui"
)

const maxTitleRunes = 48

// selectorMarkup renders one toggle row per destination followed by the
// action row. "Send" only appears when something is selected.
func (s *Service) selectorMarkup(ctx context.Context, selection []int64) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	sel := State{Selection: selection}
	for _, id := range s.dir.Destinations() {
		title := tgui.Label(s.title(ctx, id), maxTitleRunes)
		kb.Row(tgui.ToggleBtn(sel.Selected(id), title, Action{Kind: ActionSelect, Dest: id}.Data()))
	}

	row := []tele.Btn{
		tgui.Btn("Cancel", Action{Kind: ActionCancel}.Data()),
		tgui.Btn("Send to all", Action{Kind: ActionSendToAll}.Data()),
	}
	if len(selection) > 0 {
		row = append(row, tgui.Btn("Send", Action{Kind: ActionSend}.Data()))
	}
	kb.Row(row...)
	return kb.Markup()
}

func confirmMarkup() *tele.ReplyMarkup {
	return tgui.ConfirmInline(
		tgui.Btn("Back", Action{Kind: ActionConfirmBack}.Data()),
		tgui.Btn("Confirm", Action{Kind: ActionConfirm}.Data()),
	).Markup()
}

// title resolves a chat title, falling back to the numeric id.
func (s *Service) title(ctx context.Context, chatID int64) string {
	t, err := s.msgr.ChatTitle(ctx, chatID)
	if err != nil || t == "" {
		return strconv.FormatInt(chatID, 10)
	}
	return t
}

func (s *Service) postSelector(ctx context.Context, chatID int64, replyTo int, selection []int64) (kit.MessageRef, error) {
	return s.msgr.SendText(ctx, kit.ChatTarget{ChatID: chatID}, TextChooseGroups, &kit.SendOptions{
		ReplyTo:            replyTo,
		ReplyMarkupAdapter: s.selectorMarkup(ctx, selection),
	})
}

func (s *Service) editSelector(ctx context.Context, ref kit.MessageRef, selection []int64) error {
	return s.msgr.EditText(ctx, ref, TextChooseGroups, &kit.SendOptions{
		ReplyMarkupAdapter: s.selectorMarkup(ctx, selection),
	})
}

func (s *Service) editConfirm(ctx context.Context, ref kit.MessageRef) error {
	return s.msgr.EditText(ctx, ref, TextConfirm, &kit.SendOptions{
		ReplyMarkupAdapter: confirmMarkup(),
	})
}

package tgui

import tele "gopkg.in/telebot.v4"

// ConfirmInline builds a single row keyboard: back on the left, confirm on the right.
func ConfirmInline(back, confirm tele.Btn) *Inline {
	return NewInline().Row(back, confirm)
}

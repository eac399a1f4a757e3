package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Toggle marks used by ToggleBtn.
const (
	MarkOn  = "✅"
	MarkOff = "☐"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Len returns the number of rows.
func (i *Inline) Len() int { return len(i.rows) }

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// ToggleBtn renders a checkbox-style button: "✅ label" or "☐ label".
func ToggleBtn(on bool, label, data string) tele.Btn {
	mark := MarkOff
	if on {
		mark = MarkOn
	}
	return Btn(mark+" "+label, data)
}

package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInlineRows(t *testing.T) {
	kb := NewInline().
		Row(ToggleBtn(true, "A", "1"), ToggleBtn(false, "B", "2")).
		Row().
		Row(Btn("Cancel", "cancel"))
	require.Equal(t, 2, kb.Len())

	rows := kb.Markup().InlineKeyboard
	require.Len(t, rows, 2)
	require.Equal(t, "✅ A", rows[0][0].Text)
	require.Equal(t, "☐ B", rows[0][1].Text)
	require.Equal(t, "cancel", rows[1][0].Data)
}

func TestTruncAndLabel(t *testing.T) {
	require.Equal(t, "héllo", TruncRunes("héllo", 5))
	require.Equal(t, "hé…", TruncRunes("héllo", 2))
	require.Equal(t, "", TruncRunes("x", 0))
	require.Equal(t, "a b…", Label("  a\n b   c ", 3))
}

func TestHTML(t *testing.T) {
	require.Equal(t, "<b>a &lt;b&gt;</b>", B("a <b>").String())
	require.Equal(t, H("x &amp; y"), Esc("x & y"))
}

func TestCheckData(t *testing.T) {
	require.NoError(t, CheckData("-1001234567890"))
	require.ErrorIs(t, CheckData(strings.Repeat("x", MaxCallbackDataLen+1)), ErrCallbackDataTooLong)
}

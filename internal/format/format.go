package format

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var yenPrinter = message.NewPrinter(language.Japanese)

// Yen formats an amount in yen with grouping separators, e.g. Yen(12345) => "¥12,345".
func Yen(amount int64) string {
	if amount < 0 {
		return yenPrinter.Sprintf("-¥%d", -amount)
	}
	return yenPrinter.Sprintf("¥%d", amount)
}

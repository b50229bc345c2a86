// Package report renders byte breakdowns and memory reports for people and
// for tools.
package report

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatBytes renders b with 1024-based units and at most two decimals,
// e.g. "0 Bytes", "100 Bytes", "1.5 KB". Negative values keep their sign.
func FormatBytes(b int64) string {
	if b < 0 {
		// -(b+1) cannot overflow, even for math.MinInt64.
		return "-" + FormatUint(uint64(-(b+1))+1)
	}
	return FormatUint(uint64(b))
}

// FormatUint is FormatBytes for unsigned totals.
func FormatUint(b uint64) string {
	if b == 0 {
		return "0 Bytes"
	}

	i, div := 0, uint64(1)
	for i < len(byteUnits)-1 && b/div >= 1024 {
		div *= 1024
		i++
	}

	v := math.Round(float64(b)/float64(div)*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}

// Percent returns part as a percentage of total, or 0 when total is 0.
func Percent(part int64, total uint64) float64 {
	return percent(float64(part), total)
}

func percent(part float64, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return part / float64(total) * 100
}

var printer = message.NewPrinter(language.English)

// FormatCount renders n with thousands separators.
func FormatCount(n uint64) string {
	return printer.Sprintf("%d", n)
}

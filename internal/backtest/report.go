package backtest

import (
	"fmt"
	"strings"
)

// FormatReport renders a Result as a plain-text report for the backtest CLI.
func FormatReport(r *Result) string {
	var b strings.Builder
	b.WriteString("Backtest Report\n")
	b.WriteString("===============\n")
	fmt.Fprintf(&b, "Trades:        %s\n", formatInt(r.TotalTrades))
	fmt.Fprintf(&b, "Total return:  %s\n", formatSignedPct(r.TotalReturn))
	fmt.Fprintf(&b, "Max drawdown:  %s\n", formatPct(r.MaxDrawdown))
	fmt.Fprintf(&b, "Win rate:      %s\n", formatPct(r.WinRate))
	fmt.Fprintf(&b, "Realized PnL:  %s\n", formatMoney(r.RealizedPnL))
	fmt.Fprintf(&b, "Final equity:  %s\n", formatMoney(r.Final.Equity))
	fmt.Fprintf(&b, "Final cash:    %s\n", formatMoney(r.Final.Cash))

	if len(r.Trades) > 0 {
		b.WriteString("\nTrade log\n")
		b.WriteString("---------\n")
		for _, tr := range r.Trades {
			fmt.Fprintf(&b, "%s  %-4s %-6s %10.4f @ %s (fee %s)\n",
				tr.Timestamp.Format("2006-01-02 15:04"),
				strings.ToUpper(string(tr.Side)), tr.Symbol, tr.Qty,
				formatMoney(tr.Price), formatMoney(tr.Fee))
		}
	}
	return b.String()
}

// formatInt formats an integer with comma separators.
func formatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatPct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// formatSignedPct keeps the sign visible for returns.
func formatSignedPct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v*100)
}

// formatMoney formats a dollar value, with M/K suffixes for large amounts.
func formatMoney(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case abs >= 1e4:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.2f", v)
	}
}

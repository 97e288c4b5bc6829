package ui

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Section prints a header.
func Section(title string) {
	fmt.Fprintln(os.Stderr)
	headerColor.Fprintln(os.Stderr, title)
	fmt.Fprintln(os.Stderr)
}

func Success(format string, args ...any) {
	successColor.Fprintf(os.Stderr, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error prints to stderr.
func Error(format string, args ...any) {
	errorColor.Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
}

func Warning(format string, args ...any) {
	warnColor.Fprintf(os.Stderr, "⚠ %s\n", fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	infoColor.Fprintf(os.Stderr, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Debug prints only in verbose mode.
func Debug(format string, args ...any) {
	if verboseFlag {
		fmt.Fprintf(os.Stderr, "  %s\n", fmt.Sprintf(format, args...))
	}
}

// Table prints aligned rows under a dashed header.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(sep, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// FormatDuration formats d as "1h 2m 3s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

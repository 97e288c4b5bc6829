// Package ui provides terminal output helpers for ocrctl.
package ui

import (
	"github.com/fatih/color"
)

var (
	verboseFlag bool

	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.Bold, color.Underline)
)

// InitUI applies the color and verbosity flags.
func InitUI(noColor, verbose bool) {
	verboseFlag = verbose
	if noColor {
		color.NoColor = true
	}
}

// Verbose reports whether --verbose was given.
func Verbose() bool { return verboseFlag }

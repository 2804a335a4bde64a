package tui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xmjiao/jianpu-ly/internal/config"
)

// Leveled output honouring --verbose, --quiet and structured output.
// Commands use these instead of fmt.Print.

var (
	logMu  sync.Mutex
	logOut io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

// SetLogOutput redirects log lines. Success lines follow the second writer.
// Nil leaves a writer unchanged.
func SetLogOutput(errw, outw io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	if errw != nil {
		logOut = errw
	}
	if outw != nil {
		stdout = outw
	}
}

func emit(w func() io.Writer, line string) {
	logMu.Lock()
	defer logMu.Unlock()
	fmt.Fprintln(w(), line)
}

func errWriter() io.Writer { return logOut }
func outWriter() io.Writer { return stdout }

// Debug prints only with --verbose, never in structured mode.
func Debug(format string, args ...any) {
	if IsStructured() || !config.Get().Verbose {
		return
	}
	emit(errWriter, DimStyle.Render("DEBUG: "+fmt.Sprintf(format, args...)))
}

// Info prints unless --quiet or structured mode.
func Info(format string, args ...any) {
	if IsStructured() || config.Get().Quiet {
		return
	}
	emit(errWriter, fmt.Sprintf(format, args...))
}

// Warn is only suppressed in structured mode.
func Warn(format string, args ...any) {
	if IsStructured() {
		return
	}
	emit(errWriter, WarningStyle.Render(IconWarn+" "+fmt.Sprintf(format, args...)))
}

// Error is never suppressed.
func Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if IsStructured() {
		emit(errWriter, "error: "+msg)
		return
	}
	emit(errWriter, ErrorStyle.Render(IconCross+" "+msg))
}

// Success prints a check line to stdout unless --quiet or structured mode.
func Success(format string, args ...any) {
	if IsStructured() || config.Get().Quiet {
		return
	}
	emit(outWriter, SuccessStyle.Render(IconCheck)+" "+fmt.Sprintf(format, args...))
}

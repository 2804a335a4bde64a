package errors

import (
	"fmt"
	"testing"
)

func TestExitCodeNil(t *testing.T) {
	if got := ExitCode(nil); got != ExitOK {
		t.Errorf("ExitCode(nil) = %d, want %d", got, ExitOK)
	}
}

func TestExitCodePlainError(t *testing.T) {
	err := fmt.Errorf("boom")
	if got := ExitCode(err); got != ExitError {
		t.Errorf("ExitCode(plain error) = %d, want %d", got, ExitError)
	}
}

func TestExitCodeUsageError(t *testing.T) {
	err := NewUsageError("requires at least %d arg(s)", 1)
	if got := ExitCode(err); got != 1 {
		t.Errorf("ExitCode(UsageError) = %d, want 1", got)
	}
	if err.Error() != "requires at least 1 arg(s)" {
		t.Errorf("error message = %q", err.Error())
	}
	if KindOf(err) != KindUsage {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindUsage)
	}
}

func TestExitCodeInstallErrorCarriesToolCode(t *testing.T) {
	err := NewInstallError(100, fmt.Errorf("apt-get install failed"))
	if got := ExitCode(err); got != 100 {
		t.Errorf("ExitCode(InstallError) = %d, want 100", got)
	}
}

func TestInstallErrorWithoutCode(t *testing.T) {
	err := NewInstallError(-1, fmt.Errorf("signal: killed"))
	if got := ExitCode(err); got != ExitError {
		t.Errorf("ExitCode(InstallError(-1)) = %d, want %d", got, ExitError)
	}
}

func TestExitCodeByKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fetch", NewFetchError(fmt.Errorf("404")), ExitFetchError},
		{"conversion", NewConversionError(fmt.Errorf("no files found")), ExitConversionError},
		{"delivery", NewDeliveryError(fmt.Errorf("missing file")), ExitDeliveryError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	outer := &Error{Kind: KindFetch, Code: ExitFetchError, Err: inner}
	if outer.Unwrap() != inner {
		t.Error("Unwrap should return inner error")
	}
}

func TestExitCodeWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("stage failed: %w", NewDeliveryError(fmt.Errorf("song.mp3 missing")))
	if got := ExitCode(wrapped); got != ExitDeliveryError {
		t.Errorf("ExitCode(wrapped) = %d, want %d", got, ExitDeliveryError)
	}
	if KindOf(wrapped) != KindDelivery {
		t.Errorf("KindOf(wrapped) = %q", KindOf(wrapped))
	}
}

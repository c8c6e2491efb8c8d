package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(Capture, "microphone unavailable")
	want := "[capture] microphone unavailable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("device busy")
	err := Wrap(cause, Capture, "failed to open stream")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap should return cause")
	}
}

func TestIsCode(t *testing.T) {
	err := Newf(NotFound, "session %s not found", "abc")
	if !IsCode(err, NotFound) {
		t.Error("IsCode should match NotFound")
	}
	if IsCode(err, Capture) {
		t.Error("IsCode should not match Capture")
	}

	// Wrapped in a plain error chain
	wrapped := fmt.Errorf("start failed: %w", err)
	if !IsCode(wrapped, NotFound) {
		t.Error("IsCode should find AppError through chain")
	}

	if IsCode(stderrors.New("plain"), NotFound) {
		t.Error("IsCode on non-AppError should be false")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(Transcription, "service unavailable")) {
		t.Error("transcription errors should be retryable")
	}
	if IsRetryable(New(Configuration, "bad sample rate")) {
		t.Error("configuration errors should not be retryable")
	}
	if IsRetryable(New(Capture, "no device")) {
		t.Error("capture errors should not be retryable")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestWithMetadata(t *testing.T) {
	err := New(Processing, "bad frame").WithMetadata("frame", "12")
	if err.Metadata["frame"] != "12" {
		t.Errorf("metadata frame = %q, want 12", err.Metadata["frame"])
	}
	if got := err.Error(); got == "[processing] bad frame" {
		t.Error("Error() should include metadata")
	}
}

func TestCodeString(t *testing.T) {
	cases := map[Code]string{
		Configuration: "configuration",
		NotFound:      "not_found",
		Capture:       "capture",
		Processing:    "processing",
		Transcription: "transcription",
		Unknown:       "unknown",
	}
	for code, want := range cases {
		if code.String() != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, code.String(), want)
		}
	}
}

package txerrors

import (
	"errors"
	"testing"
)

func TestErrorUnwrapsToSentinel(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want error
	}{
		{"insufficient funds", KindInsufficientFunds, ErrInsufficientFunds},
		{"combine mismatch", KindCombineMismatch, ErrCombineMismatch},
		{"lock not found", KindLockNotFound, ErrLockNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.kind, "detail")
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false, want true", err, tt.want)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying cause")
	err := Wrap(KindConnectionLost, cause, "server unreachable")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestServerErrorIncludesCodeAndMessage(t *testing.T) {
	err := New(KindServerError, "rpc call failed").WithServerCode(-32000, "bad request")
	got := err.Error()
	want := "server_error: rpc call failed (code=-32000 message=bad request)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := New(KindAlreadyLocked, "outpoint in use").WithOutpoint("abcd:0")
	got := err.Error()
	if got == "" {
		t.Fatal("Error() returned empty string")
	}
	want := "already_locked: outpoint in use (outpoint=abcd:0)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

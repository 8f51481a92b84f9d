package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestCodeErrorIsMatchesByCode(t *testing.T) {
	err := ErrNotRoomMember.WrapMsg("send", "user", "u1", "room", "r1")
	if !errors.Is(err, ErrNotRoomMember) {
		t.Error("wrapped error should match its sentinel by code")
	}
	if errors.Is(err, ErrUnknownConnection) {
		t.Error("different codes must not match")
	}
	if errors.Is(errors.New("plain"), ErrNotRoomMember) {
		t.Error("plain error must not match a code error")
	}
}

func TestCodeErrorWrapKeepsSentinelUntouched(t *testing.T) {
	_ = ErrRoomFull.WrapMsg("join", "room", "r1")
	if ErrRoomFull.Detail != "" {
		t.Errorf("sentinel detail mutated: %q", ErrRoomFull.Detail)
	}
}

func TestCodeErrorDetailAccumulates(t *testing.T) {
	e := NewCodeError(1000, "boom").WithDetail("first").WithDetail("second")
	if e.Detail != "first, second" {
		t.Errorf("detail = %q", e.Detail)
	}
	msg := e.Error()
	if !strings.Contains(msg, "1000") || !strings.Contains(msg, "boom") || !strings.Contains(msg, "second") {
		t.Errorf("error string = %q", msg)
	}
}

func TestWrapMsgFormatsKeyValues(t *testing.T) {
	err := ErrUnknownConnection.WrapMsg("join", "session", "s1", "room", "r9")
	got := err.Error()
	for _, want := range []string{"join", "session=s1", "room=r9"} {
		if !strings.Contains(got, want) {
			t.Errorf("error %q missing %q", got, want)
		}
	}
}

func TestPackageWrapNil(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("Wrap(nil) must be nil")
	}
	if WrapMsg(nil, "ignored") != nil {
		t.Error("WrapMsg(nil) must be nil")
	}
}

func TestUnwrapReachesBottom(t *testing.T) {
	base := errors.New("bottom")
	wrapped := WrapMsg(base, "layer1")
	if Unwrap(wrapped) != base {
		t.Errorf("Unwrap = %v, want the bottom error", Unwrap(wrapped))
	}
}

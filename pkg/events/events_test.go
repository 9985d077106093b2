package events

import (
	"errors"
	"testing"
)

func TestErrorDispatch(t *testing.T) {
	e := New()
	var got error
	e.OnError(func(err error) { got = err })

	want := errors.New("boom")
	e.Error(want)

	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestErrorNilNotPublished(t *testing.T) {
	e := New()
	called := false
	e.OnError(func(err error) { called = true })
	e.Error(nil)
	if called {
		t.Error("nil error should not be published")
	}
}

func TestLogDispatchMultipleSubscribers(t *testing.T) {
	e := New()
	var a, b int
	e.OnLog(func(level Level, msg string, args ...any) { a++ })
	e.OnLog(func(level Level, msg string, args ...any) { b++ })

	e.Log(INFO, "hello")

	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d, want 1,1", a, b)
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

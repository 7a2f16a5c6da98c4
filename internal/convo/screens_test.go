package convo

import (
	"testing"

	"shopbot/internal/backend"
	"shopbot/internal/session"

	"github.com/shopspring/decimal"
)

func TestTruncateIsRuneSafe(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"0f8fad5b-d9cb", 8, "0f8fad5b"},
		{"abc", 8, "abc"},
		{"", 10, ""},
		{"прдкт-ид-123", 5, "прдкт"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestPromptForCoversCollectingSteps(t *testing.T) {
	for s := session.StepAwaitingName; s.Collecting(); s = s.Next() {
		if promptFor(s) == textHint {
			t.Fatalf("step %s has no prompt", s)
		}
	}
}

func TestCartScreenEmpty(t *testing.T) {
	reply := cartScreen(&backend.Cart{Total: decimal.Zero})
	if reply.Text != textEmptyCart {
		t.Fatalf("expected empty cart screen, got %q", reply.Text)
	}
	if len(reply.Buttons) != 1 || reply.Buttons[0][0].Action != buttonBack.Action {
		t.Fatalf("expected only a back button, got %+v", reply.Buttons)
	}
	if cartScreen(nil).Text != textEmptyCart {
		t.Fatal("nil cart should render as empty")
	}
}

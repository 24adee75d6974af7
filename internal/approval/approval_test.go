package approval

import (
	"bytes"
	"strings"
	"testing"
)

func TestAsk(t *testing.T) {
	p := Prompt{
		Name:        "Admin Probe Analysis",
		Description: "flag admin probes",
		Source:      "detect_threats := func(entries) {\n  return []\n}\n",
	}

	tests := []struct {
		input    string
		approved bool
		action   string
	}{
		{"a\n", true, "accept"},
		{"Y\n", true, "accept"},
		{"d\n", false, "discard"},
		{"maybe\nn\n", false, "discard"},
		{"", false, "error_reading_input"},
		{"y", true, "accept"},
		{"what", false, "error_reading_input"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := Ask(strings.NewReader(tt.input), &out, p)
		if got.Approved != tt.approved || got.UserAction != tt.action {
			t.Errorf("Ask(%q) = %+v, want approved=%v action=%q", tt.input, got, tt.approved, tt.action)
		}
		if !strings.Contains(out.String(), "  | detect_threats := func(entries) {") {
			t.Errorf("expected script to be shown, got:\n%s", out.String())
		}
	}
}

func TestAsk_RepromptsOnInvalidInput(t *testing.T) {
	var out bytes.Buffer
	Ask(strings.NewReader("x\na\n"), &out, Prompt{Name: "n"})
	if strings.Count(out.String(), "Your choice [a/d]: ") != 2 {
		t.Errorf("expected two prompts, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Invalid input") {
		t.Error("expected invalid input message")
	}
}

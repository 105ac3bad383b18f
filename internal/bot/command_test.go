package bot

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/drivers", "drivers", "", true},
		{"/Drivers", "drivers", "", true},
		{"!cancel", "cancel", "", true},
		{"/drivers@callsheet_bot", "drivers", "", true},
		{"  /help me please ", "help", "me please", true},
		{"/", "", "", false},
		{"hello", "", "", false},
		{"", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := ParseCommand(tt.in)
		if name != tt.wantName || args != tt.wantArgs || ok != tt.wantOK {
			t.Errorf("ParseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, name, args, ok, tt.wantName, tt.wantArgs, tt.wantOK)
		}
	}
}

func TestHelpText(t *testing.T) {
	op := helpText(false)
	if strings.Contains(op, "/admin") {
		t.Error("operator help should not list /admin")
	}
	for _, cmd := range []string{"/drivers", "/driver_info", "/transcribe", "/call_summary", "/cancel"} {
		if !strings.Contains(op, cmd) {
			t.Errorf("help missing %s", cmd)
		}
	}
	if !strings.Contains(helpText(true), "/admin") {
		t.Error("admin help should list /admin")
	}
}

package app

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"no args means serve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"version", []string{"version"}, CommandVersion},
		{"trailing args ignored", []string{"migrate", "--flag", "value"}, CommandMigrate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) unexpected error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_Unknown(t *testing.T) {
	for _, arg := range []string{"worker", "Serve", ""} {
		_, err := ParseCommand([]string{arg})
		if err == nil {
			t.Errorf("ParseCommand(%q) should fail", arg)
			continue
		}
		if !strings.Contains(err.Error(), "available: serve, migrate, healthcheck, version") {
			t.Errorf("error should list commands, got %v", err)
		}
	}
}

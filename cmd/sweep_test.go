package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com/collection", "https://example.com/collection"},
		{"https://example.com", "https://example.com"},
		{"http://localhost:8080/list", "http://localhost:8080/list"},
		{"file:///tmp/fixture.html", "file:///tmp/fixture.html"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTarget(tt.in), "input %q", tt.in)
	}
}

func TestSweepCommandFlags(t *testing.T) {
	cmd := newSweepCmd()

	for _, name := range []string{
		"selector", "filled-class", "delay", "change-timeout",
		"max-idle-cycles", "concurrency", "dry-run", "output",
		"user-agent", "headed",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag --%s", name)
	}
	assert.Error(t, cmd.Args(cmd, nil), "sweep requires at least one target")
	assert.NoError(t, cmd.Args(cmd, []string{"example.com"}))
}

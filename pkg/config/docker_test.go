package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveHost_InDocker(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"localhost", "host.docker.internal"},
		{"127.0.0.1", "host.docker.internal"},
		{"::1", "host.docker.internal"},
		{".", "host.docker.internal"},
		{"(LOCAL)", "host.docker.internal"},
		{"sql01.corp.example.com", "sql01.corp.example.com"},
		{"192.168.1.100", "192.168.1.100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, resolveHost(tt.input, true), tt.input)
	}
}

func TestResolveHost_NotInDocker(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "(local)", "sql01"} {
		assert.Equal(t, host, resolveHost(host, false))
	}
}

func TestResolveHostForDocker_MatchesEnvironment(t *testing.T) {
	assert.Equal(t, resolveHost("localhost", IsRunningInDocker()), ResolveHostForDocker("localhost"))
}

// Package main tests for the labsync entry point.
package main

import (
	"testing"

	"github.com/virtuallab/labsync/internal/cli"
)

func TestVersionDefault(t *testing.T) {
	// Version might be set by build flags; it must never be empty.
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"version", []string{"--version"}, cli.ExitSuccess},
		{"help", []string{"--help"}, cli.ExitSuccess},
		{"bad format", []string{"status", "--format", "xml"}, cli.ExitFailure},
		{"missing config", []string{"status", "--config", "/nonexistent/labsync.yaml"}, cli.ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(tt.args); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

package main_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/mpmhost/mpmhost/internal/cli"
	"github.com/mpmhost/mpmhost/internal/cli/cmd"
)

func TestHelpExitsZero(t *testing.T) {
	commands := []cli.Command{cmd.Serve()}

	result := cli.New(context.Background()).
		WithLogger(os.Stderr).
		WithCommands(commands).
		WithHelp(cmd.Help(commands)).
		Execute([]string{"help"})

	if result != 0 {
		t.Errorf("Execute([help]) = %d, want 0", result)
	}
}

func TestServeWithoutCPUFactoryFailsCleanly(t *testing.T) {
	// No CPUFactory is wired in the test binary, which is exactly the
	// state a build without a linked CPU library is in: serve must
	// report a config error rather than panic or hang.
	cmd.CPUFactory = nil

	commands := []cli.Command{cmd.Serve()}

	result := cli.New(context.Background()).
		WithLogger(os.Stderr).
		WithCommands(commands).
		WithHelp(cmd.Help(commands)).
		Execute([]string{"serve"})

	if result == 0 {
		t.Error("Execute([serve]) = 0, want non-zero without a CPU backend")
	}
}

func TestServeUsageDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer

	if err := cmd.Serve().Usage(&buf); err != nil {
		t.Errorf("Usage() = %v", err)
	}

	if buf.Len() == 0 {
		t.Error("Usage() wrote nothing")
	}
}

// Command mpmhost hosts an MP/M II guest: a bank-switched virtual 8-bit
// machine with a disk store, console registry, host bridge, and
// extended I/O system.
package main

import (
	"context"
	"os"

	"github.com/mpmhost/mpmhost/internal/cli"
	"github.com/mpmhost/mpmhost/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Serve(),
}

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}

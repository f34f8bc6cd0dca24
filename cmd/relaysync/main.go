// Relaysync: CLI entry point.
//
// This tool joins a tutorial synchronization session on a relay server,
// either following the active peer (watch) or driving the shared tutorial
// state from line commands (drive). A local development relay is built in
// (dev-relay).
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/relaysync/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		stop()
		os.Exit(1)
	}
	pterm.Println()
	util.LogInfo("session closed")
}

// Command bridged runs the PTY bridge WebSocket server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ianremillard/ptybridge/internal/logging"
	"github.com/ianremillard/ptybridge/internal/manager"
	"github.com/ianremillard/ptybridge/internal/wsserver"
)

func main() {
	var (
		port    = flag.Int("port", 9000, "port to listen on")
		bind    = flag.String("bind", "127.0.0.1", "address to bind to")
		token   = flag.String("token", "", "optional bearer token; enables the auth gate")
		verbose = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	log := logging.New(*verbose)

	mgr := manager.New(log)
	srv := wsserver.New(wsserver.Config{
		Bind:  *bind,
		Port:  *port,
		Token: *token,
	}, mgr, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting bridge server", "addr", srv.Addr())
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "bridged:", err)
		os.Exit(1)
	}
}

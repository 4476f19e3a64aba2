// Command server runs the standalone signaling relay used by viewers and
// sharers to trade SDP offers and answers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/tomaslejdung/peepview/pkg/logging"
	sig "github.com/tomaslejdung/peepview/pkg/signal"
)

func main() {
	port := flag.Int("port", 8080, "Server port")
	level := flag.String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	flag.Parse()

	// Check for PORT env var (for cloud deployments)
	if envPort := os.Getenv("PORT"); envPort != "" {
		p, err := strconv.Atoi(envPort)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid PORT %q: %v\n", envPort, err)
			os.Exit(1)
		}
		*port = p
	}

	logger, err := logging.New(*level, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("example_room", sig.GenerateRoomCode()).Info("Room codes look like this")

	server := sig.NewServer(logger)
	if err := server.ListenAndServe(ctx, fmt.Sprintf(":%d", *port)); err != nil {
		logger.WithField("error", err).Fatal("Server error")
	}
}

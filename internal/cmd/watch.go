package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marge-go/mergebot/internal/dashboard"
)

var watchAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Launch the terminal dashboard, connecting to a running supervisor's status feed",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "ws://127.0.0.1:8765/status", "status feed websocket address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return dashboard.Run(ctx, watchAddr)
}

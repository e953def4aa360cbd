package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marge-go/mergebot/internal/config"
	"github.com/marge-go/mergebot/internal/logging"
	"github.com/marge-go/mergebot/internal/platform"
	"github.com/marge-go/mergebot/internal/repomanager"
	"github.com/marge-go/mergebot/internal/statusfeed"
	"github.com/marge-go/mergebot/internal/supervisor"
)

var (
	configPath string
	cliFlag    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the merge-train sweep loop",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "mergebot.toml", "path to the TOML configuration file")
	runCmd.Flags().BoolVar(&cliFlag, "cli", false, "perform exactly one sweep, then exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cliFlag {
		cfg.CLI = true
	}

	logger := logging.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := platform.NewClient(cfg.BaseURL, cfg.AuthToken)

	caps, botUser, err := supervisor.Bootstrap(ctx, client)
	if err != nil {
		return err
	}
	logger.Info("bot identity resolved", "username", botUser.Username, "is_admin", botUser.IsAdmin)

	root, cleanup, err := supervisor.NewWorkingCopyRoot(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	transport := repomanager.HTTPS
	if !cfg.UseHTTPS {
		transport = repomanager.SSH
	}
	repos := repomanager.NewManager(root, transport)
	repos.Username = cfg.BotUsername
	repos.AuthToken = cfg.AuthToken
	repos.SSHKeyFile = cfg.SSHKeyFile
	repos.BotName = botUser.Name
	repos.BotEmail = botUser.Email
	repos.ReferenceRepo = cfg.GitReferenceRepo
	if d, err := time.ParseDuration(cfg.GitTimeout); err == nil {
		repos.GitTimeout = d
	}
	defer repos.Close()

	var broadcaster supervisor.Broadcaster
	if cfg.StatusAddr != "" {
		feed := statusfeed.New(logger)
		broadcaster = feed
		go func() {
			if err := statusfeed.Serve(ctx, cfg.StatusAddr, feed); err != nil {
				logger.Warn("status feed stopped", "err", err)
			}
		}()
	}

	sup, err := supervisor.New(client, caps, botUser, repos, cfg, logger, broadcaster)
	if err != nil {
		return fmt.Errorf("building supervisor: %w", err)
	}

	return sup.Run(ctx)
}

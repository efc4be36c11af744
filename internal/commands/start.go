package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scribeverse/scribe-companion/internal/activity"
	"github.com/scribeverse/scribe-companion/internal/channel"
	"github.com/scribeverse/scribe-companion/internal/config"
	"github.com/scribeverse/scribe-companion/internal/learning"
	"github.com/scribeverse/scribe-companion/internal/rpc"
	"github.com/scribeverse/scribe-companion/internal/session"
)

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the companion and connect to the agent backend",
	Long: `Starts the sync companion in the foreground. It holds one persistent
connection to the agent backend, relays activity signals from the editing
surface, and keeps the local review-item cache in sync with server pushes.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.AuthToken == "" {
		return fmt.Errorf("no auth token configured; set auth_token in %s", config.GetConfigPath())
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	log := newLogger(cfg, verbose)

	log.WithField("config", config.GetConfigPath()).Info("starting scribe companion")
	log.WithField("server", cfg.ServerURL).Info("backend")

	conn := channel.New(cfg.ServerURL, cfg.AuthToken, log)
	rpcClient := rpc.NewClient(conn, log)
	learningClient := learning.NewClient(rpcClient, cfg.RequestTimeout(), log)

	sess, err := session.New(conn, rpcClient, learningClient, session.Options{
		SessionID:          uuid.NewString(),
		ClientVersion:      AppVersion,
		DueRefreshInterval: cfg.DueRefreshInterval(),
		SignalsPerMinute:   cfg.SignalsPerMinute,
		Activity: activity.Config{
			DebounceWindow:     time.Duration(cfg.Activity.DebounceMS) * time.Millisecond,
			IdleThreshold:      time.Duration(cfg.Activity.IdleThresholdMS) * time.Millisecond,
			IdlePollInterval:   time.Duration(cfg.Activity.IdlePollMS) * time.Millisecond,
			MaxTextLength:      cfg.Activity.MaxTextLength,
			MinParagraphLength: cfg.Activity.MinParagraphLength,
		},
	}, log)
	if err != nil {
		return fmt.Errorf("failed to assemble session: %w", err)
	}

	if err := sess.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	sess.Stop()
	return nil
}

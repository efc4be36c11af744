package commands

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scribeverse/scribe-companion/internal/channel"
	"github.com/scribeverse/scribe-companion/internal/config"
	"github.com/scribeverse/scribe-companion/internal/learning"
	"github.com/scribeverse/scribe-companion/internal/rpc"
)

var ReviewCmd = &cobra.Command{
	Use:   "review <item-type> <item-id> <quality>",
	Short: "Submit a review grade for an item",
	Long: `Submits a quality grade (0 = complete blackout .. 5 = perfect recall)
for one review item and prints the rescheduled state.`,
	Args: cobra.ExactArgs(3),
	RunE: runReview,
}

func runReview(cmd *cobra.Command, args []string) error {
	quality, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("quality must be an integer 0-5: %q", args[2])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.AuthToken == "" {
		return fmt.Errorf("no auth token configured; set auth_token in %s", config.GetConfigPath())
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	log := newLogger(cfg, verbose)
	if !verbose {
		log.SetLevel(logrus.ErrorLevel)
	}

	conn := channel.New(cfg.ServerURL, cfg.AuthToken, log)
	rpcClient := rpc.NewClient(conn, log)
	learningClient := learning.NewClient(rpcClient, cfg.RequestTimeout(), log)

	conn.SetEnvelopeHandler(rpcClient.Dispatch)
	conn.SetDisconnectHandler(rpcClient.CancelAll)

	if err := conn.Connect(); err != nil {
		return err
	}
	defer conn.Close()

	item, err := learningClient.Review(args[0], args[1], quality)
	if err != nil {
		return err
	}

	fmt.Printf("Reviewed %s/%s (quality %d)\n", item.ItemType, item.ItemID, quality)
	fmt.Printf("  repetitions: %d\n", item.RepetitionCount)
	fmt.Printf("  interval:    %dd\n", item.IntervalDays)
	fmt.Printf("  ease factor: %.2f\n", item.EaseFactor)
	if item.NextReviewAt != nil {
		fmt.Printf("  next review: %s\n", item.NextReviewAt.Format("2006-01-02"))
	}
	return nil
}

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scribeverse/scribe-companion/internal/channel"
	"github.com/scribeverse/scribe-companion/internal/config"
	"github.com/scribeverse/scribe-companion/internal/learning"
	"github.com/scribeverse/scribe-companion/internal/rpc"
)

var DueCmd = &cobra.Command{
	Use:   "due",
	Short: "List review items currently due",
	Long:  `Connects to the agent backend, fetches the items due for review, and prints them.`,
	RunE:  runDue,
}

func runDue(cmd *cobra.Command, args []string) error {
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
		// One-shot command; keep the table clean.
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

	items, err := learningClient.GetDue()
	if err != nil {
		return fmt.Errorf("failed to fetch due items: %w", err)
	}

	if len(items) == 0 {
		fmt.Println("Nothing due for review.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tID\tTITLE\tREPS\tINTERVAL\tNEXT REVIEW")
	for _, item := range items {
		next := "-"
		if item.NextReviewAt != nil {
			next = item.NextReviewAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dd\t%s\n",
			item.ItemType, item.ItemID, item.Title,
			item.RepetitionCount, item.IntervalDays, next)
	}
	return w.Flush()
}

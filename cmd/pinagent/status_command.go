package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

func newStatusCommand(configFlag *string) *cobra.Command {
	var showUnpinnables bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pin-state store contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return err
			}

			store, err := pinstate.OpenPath(cfg.Paths.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()

			profile, err := store.ActiveProfile(ctx)
			if err != nil {
				return err
			}
			if profile == nil {
				cmd.Println("Active profile: none")
			} else {
				cmd.Printf("Active profile: %s (pinned locally: %t, updated %s)\n",
					profile.CID, profile.PinnedLocally, formatTime(profile.LastUpdated))
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, 4)
			for _, status := range []pinstate.Status{
				pinstate.StatusPendingPin,
				pinstate.StatusPinned,
				pinstate.StatusFailedPin,
				pinstate.StatusUnpinRequested,
			} {
				rows = append(rows, []string{string(status), strconv.Itoa(stats.ByStatus[status])})
			}
			rows = append(rows,
				[]string{"unpinnable", strconv.Itoa(stats.Unpinnables)},
				[]string{"unpinnable (unreported)", strconv.Itoa(stats.Unreported)})

			cmd.Println(renderTable(
				[]string{"STATUS", "COUNT"},
				rows,
				[]columnAlignment{alignLeft, alignRight}))

			if !showUnpinnables {
				return nil
			}

			unpinnables, err := store.Unpinnables(ctx)
			if err != nil {
				return err
			}
			if len(unpinnables) == 0 {
				cmd.Println("No unpinnable CIDs recorded.")
				return nil
			}

			detailRows := make([][]string, 0, len(unpinnables))
			for _, item := range unpinnables {
				detailRows = append(detailRows, []string{
					item.CID,
					item.Reason,
					strconv.FormatBool(item.Reported),
					formatTime(item.LastRetry),
				})
			}
			cmd.Println(renderTable(
				[]string{"CID", "REASON", "REPORTED", "LAST RETRY"},
				detailRows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showUnpinnables, "unpinnables", false, "List unpinnable CIDs")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

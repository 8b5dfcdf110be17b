package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/branchchat/internal/chat"
	"github.com/suPer8Hu/branchchat/internal/ledger"
)

func newGCCmd() *cobra.Command {
	var sweep bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run one ledger collection pass (the server must be stopped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, l, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer l.Close()
			ctx := cmd.Context()

			if sweep {
				n, err := ledger.NewWatchdog(l, cfg.LedgerWatchdogInterval, cfg.LedgerInactivityTimeout, cfg.LedgerPendingTimeout).Sweep(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("expired", n).Msg("ledger_sweep_done")
			}
			n, err := l.Collect(ctx, chat.NewService(chat.NewRepo(gdb), l, nil))
			if err != nil {
				return err
			}
			cmd.Printf("collected %d streams\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", true, "time out stale streams before collecting")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"quiz-sync-client/internal/app"
	"quiz-sync-client/internal/domain"
	pgjournal "quiz-sync-client/internal/infra/postgres"
	"quiz-sync-client/internal/state"
)

func newReplayCmd(flags *globalFlags) *cobra.Command {
	var selfID string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a recorded session from the event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if flags.sessionID == "" {
				return domain.ErrNoSession
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			ctx := cmd.Context()
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			report, err := app.Replay(ctx, pgjournal.NewEventJournal(pool), flags.sessionID, selfID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			render(out, state.Snapshot{}, report.Final)
			fmt.Fprintf(out, "replayed %d events (%d ignored, %d rejected)\n", report.Applied, report.Ignored, report.Rejected)
			return nil
		},
	}
	cmd.Flags().StringVar(&selfID, "as", "", "user id whose view to rebuild")
	return cmd
}

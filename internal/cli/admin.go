package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/transport/api"
)

func newAdminCmd(flags *globalFlags) *cobra.Command {
	var cookie string
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Moderator controls for a session",
	}
	cmd.PersistentFlags().StringVar(&cookie, "admin-cookie", os.Getenv("QUIZ_ADMIN_COOKIE"), "cookie header for admin routes")

	client := func() (*api.Client, error) {
		cfg, err := loadConfig(flags)
		if err != nil {
			return nil, err
		}
		if flags.sessionID == "" {
			return nil, domain.ErrNoSession
		}
		return api.NewClient(api.Options{BaseURL: cfg.Server.APIURL, Token: flags.token, AdminCookie: cookie}), nil
	}

	control := func(use string, action api.ControlAction) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: string(action) + " the session",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				return c.ControlSession(cmd.Context(), flags.sessionID, action)
			},
		}
	}
	cmd.AddCommand(control("start", api.ActionStart), control("finish", api.ActionFinish))

	cmd.AddCommand(&cobra.Command{
		Use:   "next-round",
		Short: "Advance to the next round",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.NextRound(cmd.Context(), flags.sessionID)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate and publish a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			q, err := c.GenerateQuestion(cmd.Context(), flags.sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", q.ID, q.Text)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revival [seats]",
		Short: "Open a revival round",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seats := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("seats must be a positive number")
				}
				seats = n
			}
			c, err := client()
			if err != nil {
				return err
			}
			return c.StartRevival(cmd.Context(), flags.sessionID, seats)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			st, err := c.SessionStatus(cmd.Context(), flags.sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, round %d, %d active\n", st.SessionID, st.Status, st.CurrentRound, st.ActiveCount)
			return nil
		},
	})
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/geoquiz-ledger/internal/service"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Mode  string
	Score int
	Time  int
}

// NewSubmitCommand creates the submit subcommand.
func NewSubmitCommand(root *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a completed game",
		Long: `Record a completed game on this device and, once you have a name,
on the global leaderboard.

Submitting the same mode, score and time twice in quick succession records
the game only once.`,
		Example: `  geoquiz submit --mode find-flag --score 25 --time 95`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "game mode")
	cmd.Flags().IntVar(&opts.Score, "score", 0, "number of correct answers")
	cmd.Flags().IntVar(&opts.Time, "time", 0, "seconds taken to finish")
	_ = cmd.MarkFlagRequired("mode")
	_ = cmd.MarkFlagRequired("time")

	return cmd
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions) error {
	mode, err := domain.ParseGameMode(opts.Mode)
	if err != nil {
		return err
	}

	return opts.withEngine(cmd, func(ctx context.Context, engine *service.Engine) error {
		result, err := engine.Submit(ctx, mode, opts.Score, opts.Time)
		if err != nil {
			return err
		}

		return opts.printer(cmd).emit(result, func(w io.Writer) {
			RenderSubmit(w, result)
		})
	})
}

// NewNameCommand creates the name subcommand.
func NewNameCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "name <display-name>",
		Short: "Set the name your scores are listed under",
		Long: `Set the display name for this device. Every score already recorded here is
relabeled and uploaded to the global leaderboard. An empty name makes the
device anonymous again.`,
		Example: `  geoquiz name Alice
  geoquiz name ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withEngine(cmd, func(ctx context.Context, engine *service.Engine) error {
				session := engine.Session()
				id := domain.Identity{UserID: session.UserID, DisplayName: args[0]}
				if err := engine.SetIdentity(ctx, id); err != nil {
					return err
				}

				session = engine.Session()
				return root.printer(cmd).emit(session, func(w io.Writer) {
					if session.PlayerName == "" {
						fmt.Fprintln(w, "Playing anonymously.")
						return
					}
					fmt.Fprintf(w, "Playing as %s.\n", session.PlayerName)
				})
			})
		},
	}
}

// LeaderboardOptions holds flags for the leaderboard command.
type LeaderboardOptions struct {
	*RootOptions
	Mode string
}

// NewLeaderboardCommand creates the leaderboard subcommand.
func NewLeaderboardCommand(root *RootOptions) *cobra.Command {
	opts := &LeaderboardOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:     "leaderboard",
		Aliases: []string{"lb"},
		Short:   "Show the global and personal leaderboards for a mode",
		Example: `  geoquiz leaderboard --mode capital-quiz
  geoquiz leaderboard --mode name-flag --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := domain.ParseGameMode(opts.Mode)
			if err != nil {
				return err
			}

			return opts.withEngine(cmd, func(ctx context.Context, engine *service.Engine) error {
				boards, err := engine.FetchLeaderboards(ctx, mode)
				if err != nil {
					return err
				}

				return opts.printer(cmd).emit(boards, func(w io.Writer) {
					RenderLeaderboards(w, boards)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", string(domain.GameModeFindFlag), "game mode")

	return cmd
}

// NewSyncCommand creates the sync subcommand.
func NewSyncCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload scores that have not reached the global leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withEngine(cmd, func(ctx context.Context, engine *service.Engine) error {
				n, err := engine.SyncPending(ctx)
				switch {
				case errors.Is(err, domain.ErrRemoteDisabled):
					return fmt.Errorf("no global leaderboard configured: %w", err)
				case errors.Is(err, domain.ErrNoIdentity):
					return fmt.Errorf("set a name first with `geoquiz name`: %w", err)
				case err != nil:
					return fmt.Errorf("synced %d scores: %w", n, err)
				}

				return root.printer(cmd).emit(map[string]int{"synced": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Uploaded %d %s.\n", n, plural(n, "score", "scores"))
				})
			})
		},
	}
}

// NewSessionCommand creates the session subcommand.
func NewSessionCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show this device's session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withEngine(cmd, func(ctx context.Context, engine *service.Engine) error {
				session := engine.Session()
				return root.printer(cmd).emit(session, func(w io.Writer) {
					name := session.PlayerName
					if name == "" {
						name = "(anonymous)"
					}
					fmt.Fprintf(w, "Session: %s\n", session.SessionID)
					fmt.Fprintf(w, "Name:    %s\n", name)
					if session.UserID != "" {
						fmt.Fprintf(w, "User:    %s\n", session.UserID)
					}
				})
			})
		},
	}
}

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Yes bool
}

// NewClearCommand creates the clear subcommand.
func NewClearCommand(root *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every score on this device and start a new session",
		Long: `Delete every score recorded on this device and start a new anonymous
session. Scores already on the global leaderboard are kept there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return errors.New("refusing to clear local data without --yes")
			}

			return opts.withEngine(cmd, func(ctx context.Context, engine *service.Engine) error {
				sessionID, err := engine.Clear(ctx)
				if err != nil {
					return err
				}

				return opts.printer(cmd).emit(map[string]string{"session_id": sessionID}, func(w io.Writer) {
					fmt.Fprintf(w, "Local data cleared. New session %s.\n", sessionID)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm deleting local data")

	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// Package cli implements the geoquiz device client.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/geoquiz-ledger/internal/service"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// App is an opened device: the engine plus whatever it holds open.
type App struct {
	Engine *service.Engine
	Close  func() error
}

// Opener builds the App for a command run.
type Opener func(ctx context.Context, opts *RootOptions) (*App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	UserID     string
	Format     string

	open Opener
}

// NewRootCommand creates the root command for the geoquiz CLI.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "geoquiz",
		Short: "geoquiz - geography quiz score ledger",
		Long: `Record completed geography quiz games and browse the leaderboards.

Scores are always kept on this device. Once you pick a display name they are
also saved to the global leaderboard, including the games you played before.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.UserID, "user-id", "", "authenticated user id from the identity provider")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewNameCommand(opts))
	cmd.AddCommand(NewLeaderboardCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

// withEngine opens the App, wires advisories to stderr, applies --user-id
// and runs fn. The App is closed when fn returns.
func (o *RootOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, engine *service.Engine) error) (err error) {
	if o.open == nil {
		return fmt.Errorf("no device configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := o.open(ctx, o)
	if err != nil {
		return err
	}
	if app.Close != nil {
		defer func() {
			if cerr := app.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("closing device: %w", cerr)
			}
		}()
	}

	errOut := cmd.ErrOrStderr()
	app.Engine.SetNotifier(service.NotifierFunc(func(adv domain.Advisory) {
		printAdvisory(errOut, adv)
	}))

	if o.UserID != "" {
		session := app.Engine.Session()
		if session.UserID != o.UserID {
			id := domain.Identity{UserID: o.UserID, DisplayName: session.PlayerName}
			if err := app.Engine.SetIdentity(ctx, id); err != nil {
				return fmt.Errorf("applying user id: %w", err)
			}
		}
	}

	return fn(ctx, app.Engine)
}

func (o *RootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{format: o.Format, out: cmd.OutOrStdout()}
}

func printAdvisory(w io.Writer, adv domain.Advisory) {
	fmt.Fprintf(w, "warning: %s\n", adv.Message)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

package main

import (
	"os"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/presentation/tui"
	"github.com/aretw0/canopy/pkg/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Chat with a charter in the terminal",
	Long: `Starts an interactive session over the charter. Lines are sent as user
messages; "/name {json}" runs a command, "/resume <instance> [payload]"
resumes a suspended instance and "/quit" leaves.

With --json, every input line is a JSON string or input object and every
output line is a serialized step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sessionID, _ := cmd.Flags().GetString("session")
		jsonMode, _ := cmd.Flags().GetBool("json")
		fresh, _ := cmd.Flags().GetBool("fresh")
		thinking, _ := cmd.Flags().GetBool("thinking")

		app, err := buildApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if fresh {
			if err := app.Sessions.Delete(ctx, sessionID); err != nil {
				return err
			}
		}

		var handler runner.IOHandler
		if jsonMode {
			handler = runner.NewJSONHandler(os.Stdin, os.Stdout, app.Engine.Charter())
		} else {
			interactive := term.IsTerminal(int(os.Stdout.Fd()))
			width := 0
			if interactive {
				width, _, _ = term.GetSize(int(os.Stdout.Fd()))
				tui.PrintBanner(os.Stdout, canopy.Version)
			}
			render, err := tui.NewRenderer(!interactive, width)
			if err != nil {
				return err
			}
			profile := termenv.Ascii
			if interactive {
				profile = termenv.ColorProfile()
			}
			printer := tui.NewPrinter(os.Stdout,
				tui.WithProfile(profile),
				tui.WithRenderer(render),
				tui.WithThinking(thinking),
			)
			handler = runner.NewTextHandler(os.Stdin, os.Stdout, runner.WithPrinter(printer))
		}

		app.Logger.Debug("session opened", "session_id", sessionID, "start", app.Start)
		r := runner.New(app.Sessions, sessionID,
			runner.WithHandler(handler),
			runner.WithFactory(app.Factory()),
			runner.WithLogger(app.Logger),
			runner.WithReplay(!fresh),
		)
		return r.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("session", "s", "default", "Session ID to open or create")
	runCmd.Flags().Bool("json", false, "Read inputs and write steps as JSON lines")
	runCmd.Flags().Bool("fresh", false, "Delete the session before starting")
	runCmd.Flags().Bool("thinking", false, "Show thinking items")
}

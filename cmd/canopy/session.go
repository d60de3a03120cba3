package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/cli"
	"github.com/aretw0/canopy/internal/presentation/graph"
	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent sessions",
	Long:  `List, inspect, draw and remove sessions in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.Store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		fmt.Fprintln(out, "Sessions:")
		for _, s := range sessions {
			fmt.Fprintln(out, "- "+s)
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print the stored steps of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")
		last, _ := cmd.Flags().GetBool("last")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		steps, err := st.Store.Load(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("load session %q: %w", args[0], err)
		}
		var v any = steps
		if last && len(steps) > 0 {
			v = steps[len(steps)-1]
		}

		var data []byte
		if asYAML {
			data, err = codec.MarshalYAML(v)
		} else {
			data, err = json.MarshalIndent(v, "", "  ")
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm [session-id]...",
	Short: "Remove one or more sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("name at least one session or pass --all")
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		if all {
			if args, err = st.Store.List(ctx); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
		}

		var errs []error
		for _, id := range args {
			if err := st.Store.Delete(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("remove %q: %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

var sessionGraphCmd = &cobra.Command{
	Use:   "graph <session-id>",
	Short: "Draw the session's instance tree as a Mermaid diagram",
	Long: `Restores the session's last step against the charter and prints its
instance tree as a Mermaid flowchart.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction, _ := cmd.Flags().GetString("direction")
		showState, _ := cmd.Flags().GetBool("state")
		ctx := cmd.Context()

		app, err := buildApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		steps, err := app.Sessions.Steps(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load session %q: %w", args[0], err)
		}
		if len(steps) == 0 {
			return fmt.Errorf("session %q: %w", args[0], domain.ErrSessionNotFound)
		}
		root := steps[len(steps)-1].Instance
		fmt.Fprintln(cmd.OutOrStdout(), graph.GenerateMermaid(root, &graph.Options{
			Direction: direction,
			ShowState: showState,
		}))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
	sessionCmd.AddCommand(sessionGraphCmd)

	sessionInspectCmd.Flags().Bool("yaml", false, "Print YAML instead of JSON")
	sessionInspectCmd.Flags().Bool("last", false, "Print only the last step")
	sessionRmCmd.Flags().Bool("all", false, "Remove every session")
	sessionGraphCmd.Flags().String("direction", "TD", "Flowchart direction (TD, LR, ...)")
	sessionGraphCmd.Flags().Bool("state", false, "Show state keys in node labels")
}

// openStore opens the configured store without loading a charter.
func openStore(cmd *cobra.Command) (*cli.Storage, error) {
	opts := optionsFrom(cmd)
	return cli.OpenStore(opts, newLogger(opts))
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lezhik/SpringTwin/internal/tui"
)

func newToolsCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed to agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			// Only the in-memory stack is needed to describe tools.
			cfg.Storage.Path, cfg.Graph.URI, cfg.Vector.Host = "", "", ""
			a, err := newApp(ctx, cfg, logger, appOptions{Privileged: true})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			manifest := a.gateway.Manifest(ctx)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(manifest)
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.DefaultStyles().Tools(manifest))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print descriptors with parameter schemas as JSON")
	return cmd
}

func newMCPCmd(configPath *string) *cobra.Command {
	var privileged bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool gateway over MCP on stdin and stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, logger, appOptions{Privileged: privileged})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			logger.Info("mcp server starting", "privileged", privileged)
			return a.gateway.ServeStdio(ctx, version)
		},
	}
	cmd.Flags().BoolVar(&privileged, "privileged", false, "Expose tools that trigger or cancel analyses")
	return cmd
}

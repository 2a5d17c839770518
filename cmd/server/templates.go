package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/ashureev/nanostyle/internal/catalog"
)

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "Print the template catalog as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"templates": catalog.Default().All()})
		},
	}
}

package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

func newTypesCmd(registry *schema.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List supported data types and their columns",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, s := range registry.Schemas() {
				cmd.Printf("%s%s%s\n", colorBold, s.Type, colorReset)
				if s.Description != "" {
					cmd.Printf("  %s\n", s.Description)
				}
				cmd.Printf("  %srequired:%s %s\n", colorDim, colorReset, strings.Join(s.Required, ", "))
				if len(s.Optional) > 0 {
					cmd.Printf("  %soptional:%s %s\n", colorDim, colorReset, strings.Join(s.Optional, ", "))
				}
			}
		},
	}
}

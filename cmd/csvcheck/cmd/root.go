package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/livpulse/internal/core"
	"github.com/JonMunkholm/livpulse/internal/schema"
)

// NewRootCmd builds the csvcheck command tree against registry.
func NewRootCmd(registry *schema.Registry) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CSVCHECK")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "csvcheck",
		Short: "Validate livpulse CSV files before uploading them",
		Long: `csvcheck runs the same parsing and validation as the livpulse upload
pipeline, locally and without a database.

Common workflows:

  List the data types and their columns:
    csvcheck types

  Validate a file:
    csvcheck validate --type kpi_metrics metrics.csv

  Write every issue to a spreadsheet:
    csvcheck validate --type risks risks.csv --out risks-errors.xlsx

Configuration:
  CSVCHECK_MAX_ERRORS   issues printed to the terminal (default: 20)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newValidateCmd(registry, v))
	root.AddCommand(newTypesCmd(registry))
	return root
}

// Execute runs csvcheck with the built-in data types.
func Execute() error {
	root := NewRootCmd(schema.Default())
	err := root.Execute()
	if err != nil {
		root.PrintErrln(describeError(err))
	}
	return err
}

// describeError prints pipeline errors the way the upload API reports them,
// with their code and suggested action.
func describeError(err error) string {
	if !errors.Is(err, errInvalidFile) && core.IsUserFacing(err) {
		return "Error: " + core.FormatUserError(err)
	}
	return "Error: " + err.Error()
}

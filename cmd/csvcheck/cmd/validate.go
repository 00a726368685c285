package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/livpulse/internal/core"
	"github.com/JonMunkholm/livpulse/internal/schema"
)

// errInvalidFile makes the command exit non-zero when a file would not
// commit cleanly.
var errInvalidFile = errors.New("file has validation errors")

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func newValidateCmd(registry *schema.Registry, v *viper.Viper) *cobra.Command {
	var (
		dataType string
		out      string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "validate [file.csv]",
		Short: "Validate a CSV file against a data type",
		Long: `Parse and validate a CSV file exactly like an upload would be, then print a
summary and the first issues found. With --out every issue is written to a CSV
or XLSX report. The command fails when any row or the header has errors;
warnings alone pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			rows, err := core.ParseCSV(data)
			if err != nil {
				return err
			}
			if len(rows) < 2 {
				return fmt.Errorf("%w: no data rows found", core.ErrEmptyFile)
			}

			res, err := core.NewValidator(registry, core.DefaultProgressInterval).
				Validate(cmd.Context(), rows, dataType, nil)
			if err != nil {
				return err
			}

			printSummary(cmd, args[0], dataType, len(rows)-1, res, v.GetInt("max_errors"))

			if out != "" {
				if err := writeReport(out, format, res.Errors); err != nil {
					return err
				}
				cmd.Printf("%sReport written to %s%s\n", colorDim, out, colorReset)
			}

			if res.InvalidRows > 0 || hasHeaderErrors(res.Errors) {
				return errInvalidFile
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataType, "type", "t", "", "data type of the file (see 'csvcheck types')")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write every issue to this file")
	cmd.Flags().StringVar(&format, "format", "", "report format: csv or xlsx (default: from --out extension)")
	cmd.Flags().Int("max-errors", 20, "issues printed to the terminal")
	_ = cmd.MarkFlagRequired("type")
	_ = v.BindPFlag("max_errors", cmd.Flags().Lookup("max-errors"))

	return cmd
}

func printSummary(cmd *cobra.Command, path, dataType string, total int, res core.ValidationResult, maxErrors int) {
	icon := colorGreen + "✓" + colorReset
	if res.InvalidRows > 0 || hasHeaderErrors(res.Errors) {
		icon = colorRed + "✗" + colorReset
	}

	cmd.Printf("%s %s%s%s (%s)\n", icon, colorBold, filepath.Base(path), colorReset, strings.ToLower(dataType))
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sRows:%s     %d\n", colorDim, colorReset, total)
	cmd.Printf("%sValid:%s    %s%d%s\n", colorDim, colorReset, colorGreen, res.ValidRows, colorReset)
	cmd.Printf("%sInvalid:%s  %s%d%s\n", colorDim, colorReset, colorRed, res.InvalidRows, colorReset)

	if len(res.Errors) == 0 {
		return
	}

	cmd.Println()
	shown := res.Errors
	if maxErrors >= 0 && len(shown) > maxErrors {
		shown = shown[:maxErrors]
	}
	for _, e := range shown {
		color := colorRed
		if e.Severity == core.SeverityWarning {
			color = colorYellow
		}
		cmd.Printf("  %srow %d%s  %s%-7s%s %s\n", colorDim, e.Row, colorReset, color, e.Severity, colorReset, e.Message)
	}
	if hidden := len(res.Errors) - len(shown); hidden > 0 {
		cmd.Printf("  %s... and %d more (use --out for the full list)%s\n", colorDim, hidden, colorReset)
	}
}

func writeReport(path, format string, errs []core.ValidationError) error {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := core.WriteErrorReport(f, format, errs); err != nil {
		f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func hasHeaderErrors(errs []core.ValidationError) bool {
	for _, e := range errs {
		if e.Row == core.HeaderRow && e.Severity == core.SeverityError {
			return true
		}
	}
	return false
}

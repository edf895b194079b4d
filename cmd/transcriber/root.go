package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/models"
	"github.com/garyjia/order-transcriber/internal/pipeline"
)

// errRunFailed is returned after a result record with success=false has been printed
var errRunFailed = errors.New("run did not succeed")

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	envFile    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "transcriber",
		Short: "Transcribe partner figures into order/inspection workbooks",
		Long: `transcriber writes the figures extracted from a partner's estimate, invoice and
order confirmation into the 注文書/検収書 workbook template, repairs the written package,
checks its totals through a recalculation engine and prints one PDF per sheet.

Example Usage:
  transcriber run --partner nextbits --fieldset fields.json --validate --render
  transcriber validate --partner offbeat --package out.xlsx --fieldset fields.json
  transcriber render --partner offbeat --package out.xlsx --output-dir pdf/
  transcriber serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "Path to the configuration file (default: config.yaml in . or ./configs)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Path to a dotenv file loaded before the configuration")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(flags),
		newValidateCmd(flags),
		newRenderCmd(flags),
		newServeCmd(flags),
		newVersionCmd(),
	)
	return root
}

// printResult writes the result record as indented JSON and maps failure to errRunFailed
func printResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	if !res.Success {
		return errRunFailed
	}
	return nil
}

// readFieldSet loads extraction output from a file, or stdin when path is "-"
func readFieldSet(cmd *cobra.Command, path string) (*models.FieldSet, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read field set: %w", err)
	}
	return models.ParseFieldSet(data)
}

// printFailure prints a result record for an error raised before the pipeline started
func printFailure(w io.Writer, a *app, err error) error {
	a.logger.Error("Request rejected", zap.Error(err))
	res := &pipeline.Result{
		Warnings: []string{},
		Error:    apperr.ToRecord(err, a.cfg.Development()),
	}
	if res.Error.Kind == apperr.KindUnknown {
		res.Error.Kind = apperr.KindInput
	}
	if perr := printResult(w, res); !errors.Is(perr, errRunFailed) {
		return perr
	}
	return errRunFailed
}

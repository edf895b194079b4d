package main

import (
	"github.com/spf13/cobra"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/pipeline"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/render"
)

type runOptions struct {
	partner   string
	template  string
	fieldSet  string
	output    string
	outputDir string
	validate  bool
	render    bool
	strategy  string
	pdfDir    string
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transcribe a field set into the partner template",
		Long: `Write the field set into the partner's template, reconcile the package and place it
at --output (or inside --output-dir under its standard name). With --validate the
package is recalculated and checked against the invoice; with --render both sheets
are printed to PDF.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscription(cmd, flags, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.partner, "partner", "", "Partner profile (nextbits, offbeat)")
	f.StringVar(&opts.template, "template", "", "Workbook template (default: configured template of the partner)")
	f.StringVar(&opts.fieldSet, "fieldset", "-", "Field set JSON file, - for stdin")
	f.StringVar(&opts.output, "output", "", "Output package path")
	f.StringVar(&opts.outputDir, "output-dir", "", "Output directory (default: storage.output_dir)")
	f.BoolVar(&opts.validate, "validate", false, "Recalculate and check the package")
	f.BoolVar(&opts.render, "render", false, "Print the order and inspection PDFs")
	f.StringVar(&opts.strategy, "strategy", "", "Render strategy: split or isolate (default: render.strategy)")
	f.StringVar(&opts.pdfDir, "pdf-dir", "", "PDF directory (default: next to the package)")
	_ = cmd.MarkFlagRequired("partner")
	return cmd
}

func runTranscription(cmd *cobra.Command, flags *globalFlags, opts *runOptions) error {
	a, err := newApp(cmd.Context(), flags, false)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	tag, err := profile.ParseTag(opts.partner)
	if err != nil {
		return printFailure(out, a, err)
	}
	fs, err := readFieldSet(cmd, opts.fieldSet)
	if err != nil {
		return printFailure(out, a, apperr.E(apperr.KindInput, "read field set", err))
	}
	strategy, err := render.ParseStrategy(firstNonEmpty(opts.strategy, a.cfg.Render.Strategy))
	if err != nil {
		return printFailure(out, a, err)
	}

	req := pipeline.Request{
		Partner:      tag,
		TemplatePath: firstNonEmpty(opts.template, a.cfg.TemplateFor(tag)),
		FieldSet:     fs,
		OutputPath:   opts.output,
		Validate:     opts.validate,
		Render:       opts.render,
		PDFDir:       opts.pdfDir,
		Strategy:     strategy,
	}
	if req.OutputPath == "" {
		req.OutputDir = firstNonEmpty(opts.outputDir, a.cfg.Storage.OutputDir)
	}

	res, _ := a.pipeline.Run(cmd.Context(), req)
	return printResult(out, res)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

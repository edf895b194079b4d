package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/pipeline"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/render"
)

func newRenderCmd(flags *globalFlags) *cobra.Command {
	var partner, packagePath, outputDir, issueDate, strategy string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the order and inspection sheets of a package to PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			tag, err := profile.ParseTag(partner)
			if err != nil {
				return printFailure(out, a, err)
			}
			s, err := render.ParseStrategy(firstNonEmpty(strategy, a.cfg.Render.Strategy))
			if err != nil {
				return printFailure(out, a, err)
			}
			var date time.Time
			if issueDate != "" {
				if date, err = time.Parse("2006-01-02", issueDate); err != nil {
					return printFailure(out, a, apperr.E(apperr.KindInput, "parse issue date", err))
				}
			}

			res, _ := a.pipeline.Render(cmd.Context(), pipeline.RenderRequest{
				Partner:     tag,
				PackagePath: packagePath,
				OutputDir:   outputDir,
				IssueDate:   date,
				Strategy:    s,
			})
			return printResult(out, res)
		},
	}

	cmd.Flags().StringVar(&partner, "partner", "", "Partner profile (nextbits, offbeat)")
	cmd.Flags().StringVar(&packagePath, "package", "", "Package to print")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "PDF directory (default: next to the package)")
	cmd.Flags().StringVar(&issueDate, "issue-date", "", "Issue date naming the PDFs, yyyy-mm-dd (default: read from the package)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Render strategy: split or isolate (default: render.strategy)")
	_ = cmd.MarkFlagRequired("partner")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/pipeline"
	"github.com/garyjia/order-transcriber/internal/profile"
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var partner, packagePath, fieldSet string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Recalculate a package and check it against the invoice",
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
			fs, err := readFieldSet(cmd, fieldSet)
			if err != nil {
				return printFailure(out, a, apperr.E(apperr.KindInput, "read field set", err))
			}

			res, _ := a.pipeline.Validate(cmd.Context(), pipeline.ValidateRequest{
				Partner:     tag,
				PackagePath: packagePath,
				FieldSet:    fs,
			})
			return printResult(out, res)
		},
	}

	cmd.Flags().StringVar(&partner, "partner", "", "Partner profile (nextbits, offbeat)")
	cmd.Flags().StringVar(&packagePath, "package", "", "Package to validate")
	cmd.Flags().StringVar(&fieldSet, "fieldset", "-", "Field set JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("partner")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}

package main

import (
	"fmt"
	"io"

	"github.com/loykin/sessprobe/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the suite file without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateSuite(v.GetString("config"), cmd.OutOrStdout())
		},
	}
}

func validateSuite(path string, out io.Writer) error {
	doc, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s: ok (app mode %s)\n", path, doc.AppMode())
	for _, name := range doc.BackendNames() {
		scenarios, _ := doc.Scenarios(name)
		spec := doc.Backends[name]
		_, _ = fmt.Fprintf(out, "  %s type=%s mode=%s scenarios=%d\n", name, spec.Type, spec.WithDefaults().Mode, len(scenarios))
	}
	return nil
}

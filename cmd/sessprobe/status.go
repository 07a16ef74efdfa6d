package main

import (
	"fmt"

	"github.com/loykin/sessprobe/pkg/config"
	"github.com/loykin/sessprobe/pkg/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded suite runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(v.GetString("config"))
			if err != nil {
				return err
			}
			info, err := status.FromConfig(cmd.Context(), doc.Store, v.GetInt("limit"), v.GetString("run_id"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), info.FormatHuman())
			return err
		},
	}
	cmd.Flags().Int("limit", 10, "number of runs to list")
	cmd.Flags().String("run-id", "", "show the scenarios of this run")
	_ = v.BindPFlag("limit", cmd.Flags().Lookup("limit"))
	_ = v.BindPFlag("run_id", cmd.Flags().Lookup("run-id"))
	return cmd
}

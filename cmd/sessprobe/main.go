package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd builds the command tree around v so tests can run commands in isolation
func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "sessprobe",
		Short:         "Verify session storage backends behind an application under test",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	v.SetDefault("config", "./sessprobe.yaml")

	// Environment variables support: SESSPROBE_CONFIG, SESSPROBE_BACKEND, ...
	v.SetEnvPrefix("SESSPROBE")
	v.AutomaticEnv()
	root.PersistentFlags().String("config", v.GetString("config"), "path to the suite yaml")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(newRunSuiteCmd(v))
	root.AddCommand(newValidateCmd(v))
	root.AddCommand(newStatusCmd(v))
	root.AddCommand(newServeCmd(v))
	return root
}

func main() {
	root := newRootCmd(viper.GetViper(), os.Stdout)
	handleCommandError(exitHandler, root.Execute())
}

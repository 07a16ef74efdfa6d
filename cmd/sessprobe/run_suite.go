package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/sessprobe"
	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/pkg/orchestrator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// suiteRun is everything run-suite needs besides the suite file
type suiteRun struct {
	ConfigPath  string
	Backend     string
	Filters     orchestrator.RegexFilters
	Parallelism int
	Timeout     time.Duration
	NoStore     bool
}

func newRunSuiteCmd(v *viper.Viper) *cobra.Command {
	run := orchestrator.RegexList{}
	skip := orchestrator.RegexList{}
	cmd := &cobra.Command{
		Use:   "run-suite",
		Short: "Run the suite's scenarios against one backend",
		Long: `Run every scenario of the suite file that targets the selected backend.
Exit status is 0 when all scenarios pass, 1 when any scenario fails and 2 when the
harness itself fails (bad configuration, unreachable backend, no free port, interrupt).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			code := executeSuite(ctx, suiteRun{
				ConfigPath:  v.GetString("config"),
				Backend:     v.GetString("backend"),
				Filters:     orchestrator.RegexFilters{MustMatch: run, MustNotMatch: skip},
				Parallelism: v.GetInt("parallel"),
				Timeout:     v.GetDuration("timeout"),
				NoStore:     v.GetBool("no_store"),
			}, cmd.OutOrStdout())
			if code != ExitOK {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().String("backend", "", "name of the backend in the suite file to test")
	cmd.Flags().Int("parallel", 0, "maximum scenarios in flight (0 = suite setting)")
	cmd.Flags().Duration("timeout", 0, "bound for the whole suite (0 = none)")
	cmd.Flags().Bool("no-store", false, "do not record the run in the result store")
	cmd.Flags().Var(&run, "run", "only run scenarios matching this regex (repeatable)")
	cmd.Flags().Var(&skip, "skip", "skip scenarios matching this regex (repeatable)")
	_ = v.BindPFlag("backend", cmd.Flags().Lookup("backend"))
	_ = v.BindPFlag("parallel", cmd.Flags().Lookup("parallel"))
	_ = v.BindPFlag("timeout", cmd.Flags().Lookup("timeout"))
	_ = v.BindPFlag("no_store", cmd.Flags().Lookup("no-store"))
	return cmd
}

// executeSuite loads the suite, runs it, prints the results and returns the process exit status
func executeSuite(ctx context.Context, r suiteRun, out io.Writer) int {
	var res sessprobe.Results
	suite, err := sessprobe.LoadSuite(r.ConfigPath)
	if err == nil {
		err = suite.Logging.SetupLogging()
	}
	if err != nil {
		res = sessprobe.Results{Backend: r.Backend, Err: err}
		common.GetLogger().WithComponent("run-suite").Error("suite could not run", "error", err)
	} else {
		runner := &sessprobe.Runner{
			Suite:       suite,
			Backend:     r.Backend,
			Filters:     r.Filters,
			Parallelism: r.Parallelism,
			Timeout:     r.Timeout,
			Record:      !r.NoStore,
		}
		res = runner.Run(ctx)
	}
	orchestrator.PrintResults(out, res)
	return res.ExitCode()
}

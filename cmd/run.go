// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openstack-archive/congress-sub001/cmd/internal/env"
	"github.com/openstack-archive/congress-sub001/repl"
	"github.com/openstack-archive/congress-sub001/util"
	"github.com/openstack-archive/congress-sub001/version"
)

const defaultHistoryFile = ".congress_history" // default filename for shell history

type runCommandParams struct {
	configFile   string
	files        []string
	policy       string
	headless     bool
	watch        bool
	historyPath  string
	outputFormat *util.EnumFlag
	subscribe    []string
}

func newRunCommandParams() runCommandParams {
	return runCommandParams{
		outputFormat: util.NewEnumFlag(formatPretty, []string{formatPretty, formatJSON}),
	}
}

func init() {

	params := newRunCommandParams()

	runCommand := &cobra.Command{
		Use:   "run",
		Short: "Start the engine in interactive or headless mode",
		Long: `Start an instance of the policy engine.

To run the interactive shell:

    $ congress run -c config.yaml

To run without a shell until interrupted:

    $ congress run -c config.yaml --headless

The configuration file declares the policies and the files they are loaded
from, the data sources polled for table snapshots, the storage directory that
policies are saved to on exit and restored from on start, and the address the
Prometheus metrics are served on.

Additional policy files are given with --file as [policy=]path. With --watch the
policy files are reloaded when they change: the content of a policy is replaced
by the statements of its files.

Tables given with --subscribe as policy:table are published to the log as they
change. Actions the policies decide to take are logged as well.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return env.CmdFlags.CheckEnvironmentVariables(cmd)
		},
		Run: func(*cobra.Command, []string) {
			if err := run(params); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
		},
	}

	setConfigFile(runCommand.Flags(), &params.configFile)
	setFiles(runCommand.Flags(), &params.files)
	runCommand.Flags().StringVarP(&params.policy, "policy", "p", "", "set the initial policy of the shell")
	runCommand.Flags().BoolVarP(&params.headless, "headless", "", false, "run without the interactive shell until interrupted")
	runCommand.Flags().BoolVarP(&params.watch, "watch", "w", false, "watch policy files for changes")
	runCommand.Flags().StringVarP(&params.historyPath, "history", "H", historyPath(), "set path of history file")
	runCommand.Flags().VarP(params.outputFormat, "format", "", "set shell output format")
	runCommand.Flags().StringSliceVarP(&params.subscribe, "subscribe", "", []string{}, "set tables to publish, as policy:table")
	RootCommand.AddCommand(runCommand)
}

func run(params runCommandParams) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e, err := newEngine(ctx, params, nil)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		e.Abort(context.Background())
		return err
	}

	if params.headless {
		<-ctx.Done()
	} else {
		banner := fmt.Sprintf("Congress %v (type 'help' for the list of commands)", version.Version)
		repl.New(e.rt, params.policy, params.historyPath, os.Stdout, params.outputFormat.String(), banner).Loop(ctx)
	}

	return e.Stop(context.Background())
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultHistoryFile
	}
	return filepath.Join(home, defaultHistoryFile)
}

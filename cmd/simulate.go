// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openstack-archive/congress-sub001/cmd/internal/env"
	pr "github.com/openstack-archive/congress-sub001/presentation"
	"github.com/openstack-archive/congress-sub001/runtime"
	"github.com/openstack-archive/congress-sub001/util"
)

type simulateCommandParams struct {
	configFile   string
	files        []string
	policy       string
	actionPolicy string
	sequence     string
	sequenceFile string
	delta        bool
	trace        bool
	outputFormat *util.EnumFlag
}

func newSimulateCommandParams() simulateCommandParams {
	return simulateCommandParams{
		outputFormat: newFormatFlag(formatJSON, formatRaw),
	}
}

func init() {

	params := newSimulateCommandParams()

	simulateCommand := &cobra.Command{
		Use:   "simulate <query>",
		Short: "Evaluate a query after hypothetical updates and actions",
		Long: `Evaluate a query after applying a sequence of updates and actions.

The sequence is applied in order to a copy of the policies. Facts of update
tables (p+ and p-) insert and delete facts of p. Facts of tables declared with
action("name") in the action policy are projected through its rules. Other
statements are inserted. The loaded policies never change.

Example:

    $ cat action.cg
    action("reboot")
    active+(x) :- reboot(x)
    error-(x) :- reboot(x)

    $ congress simulate -f nova.cg -f action.cg -p nova --sequence 'reboot("vm2")' --delta 'error(x)'
`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("specify exactly one query argument")
			}
			if params.sequence != "" && params.sequenceFile != "" {
				return errors.New("specify --sequence or --sequence-file but not both")
			}
			return env.CmdFlags.CheckEnvironmentVariables(cmd)
		},
		Run: func(_ *cobra.Command, args []string) {
			if err := simulate(args, params, os.Stdout); err != nil {
				if _, ok := err.(evalError); !ok {
					fmt.Fprintln(os.Stderr, err)
				}
				os.Exit(2)
			}
		},
	}

	setConfigFile(simulateCommand.Flags(), &params.configFile)
	setFiles(simulateCommand.Flags(), &params.files)
	setPolicy(simulateCommand.Flags(), &params.policy)
	setFormat(simulateCommand.Flags(), params.outputFormat)
	simulateCommand.Flags().StringVarP(&params.actionPolicy, "action-policy", "a", "", "set policy holding the action rules (defaults to the configured action policy)")
	simulateCommand.Flags().StringVarP(&params.sequence, "sequence", "s", "", "set statements to apply before evaluating the query")
	simulateCommand.Flags().StringVarP(&params.sequenceFile, "sequence-file", "", "", "set path of file holding the statements to apply")
	simulateCommand.Flags().BoolVarP(&params.delta, "delta", "", false, "report the change of the answers instead of the answers")
	simulateCommand.Flags().BoolVarP(&params.trace, "trace", "", false, "report the evaluation trace of the query")
	RootCommand.AddCommand(simulateCommand)
}

func simulate(args []string, params simulateCommandParams, w io.Writer) error {
	output, err := simulateOnce(context.Background(), args[0], params)
	if err != nil {
		output = pr.Output{Errors: pr.NewOutputErrors(err)}
	}
	if werr := writeOutput(w, params.outputFormat.String(), output); werr != nil {
		return werr
	}
	if err != nil {
		return evalError{err}
	}
	return nil
}

func simulateOnce(ctx context.Context, query string, params simulateCommandParams) (pr.Output, error) {
	cfg, err := loadConfig(params.configFile)
	if err != nil {
		return pr.Output{}, err
	}

	policy, err := defaultPolicy(params.policy, params.files)
	if err != nil {
		return pr.Output{}, err
	}

	sequence := params.sequence
	if params.sequenceFile != "" {
		bs, err := os.ReadFile(params.sequenceFile)
		if err != nil {
			return pr.Output{}, err
		}
		sequence = string(bs)
	}

	rt, err := newRuntime(ctx, runtime.Params{Config: cfg}, params.files)
	if err != nil {
		return pr.Output{}, err
	}

	body, err := rt.ParseQuery(query)
	if err != nil {
		return pr.Output{}, err
	}

	result, err := rt.Simulate(ctx, runtime.SimulateRequest{
		Policy:       policy,
		Query:        query,
		Sequence:     sequence,
		ActionPolicy: params.actionPolicy,
		Delta:        params.delta,
		Trace:        params.trace,
	})
	if err != nil {
		return pr.Output{}, err
	}

	output := pr.Output{Explanation: result.Trace}
	if params.delta {
		return output.WithDelta(result.Delta), nil
	}
	output.Result = pr.NewResultSet(body, result.Answers)
	return output, nil
}

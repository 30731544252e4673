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
	"github.com/openstack-archive/congress-sub001/metrics"
	pr "github.com/openstack-archive/congress-sub001/presentation"
	"github.com/openstack-archive/congress-sub001/runtime"
	"github.com/openstack-archive/congress-sub001/theory"
	"github.com/openstack-archive/congress-sub001/topdown"
	"github.com/openstack-archive/congress-sub001/util"
)

type evalCommandParams struct {
	configFile   string
	files        []string
	policy       string
	outputFormat *util.EnumFlag
	explain      *util.EnumFlag
	metrics      bool
	prettyLimit  int
	fail         bool
	failDefined  bool
}

func newEvalCommandParams() evalCommandParams {
	return evalCommandParams{
		outputFormat: newFormatFlag(formatJSON, formatRaw, formatBindings),
		explain:      util.NewEnumFlag(explainOff, []string{explainOff, explainTrace, explainProofs}),
	}
}

// evalError marks errors that were already written to the output.
type evalError struct {
	err error
}

func (e evalError) Error() string {
	return e.err.Error()
}

func init() {

	params := newEvalCommandParams()

	evalCommand := &cobra.Command{
		Use:   "eval <query>",
		Short: "Evaluate a query against a policy",
		Long: `Evaluate a query against a policy.

Example:

    $ cat servers.cg
    servers("vm1", "ACTIVE")
    servers("vm2", "ERROR")
    error(x) :- servers(x, "ERROR")

    $ congress eval -f servers.cg 'error(x)'

Each --file flag loads a file into the policy named by its base name, or into
the policy given before an equal sign:

    $ congress eval -f nova=servers.cg -f views.cg -p views 'error(x)'

Set the output format with the --format flag.

    --format=json      : output answers and bindings as JSON
    --format=raw       : output one answer per line
    --format=bindings  : output line separated JSON objects containing variable bindings
    --format=pretty    : output answers in a human-readable format
`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("specify exactly one query argument")
			}
			if params.fail && params.failDefined {
				return errors.New("specify --fail or --fail-defined but not both")
			}
			return env.CmdFlags.CheckEnvironmentVariables(cmd)
		},
		Run: func(_ *cobra.Command, args []string) {
			defined, err := eval(args, params, os.Stdout)
			if err != nil {
				if _, ok := err.(evalError); !ok {
					fmt.Fprintln(os.Stderr, err)
				}
				os.Exit(2)
			}
			if (params.fail && !defined) || (params.failDefined && defined) {
				os.Exit(1)
			}
		},
	}

	setConfigFile(evalCommand.Flags(), &params.configFile)
	setFiles(evalCommand.Flags(), &params.files)
	setPolicy(evalCommand.Flags(), &params.policy)
	setFormat(evalCommand.Flags(), params.outputFormat)
	setExplain(evalCommand.Flags(), params.explain)
	evalCommand.Flags().BoolVarP(&params.metrics, "metrics", "", false, "report query performance metrics")
	evalCommand.Flags().IntVarP(&params.prettyLimit, "pretty-limit", "", 80, "set limit after which pretty output gets truncated")
	evalCommand.Flags().BoolVarP(&params.fail, "fail", "", false, "exits with non-zero exit code on undefined/empty result and errors")
	evalCommand.Flags().BoolVarP(&params.failDefined, "fail-defined", "", false, "exits with non-zero exit code on defined/non-empty result and errors")
	RootCommand.AddCommand(evalCommand)
}

func eval(args []string, params evalCommandParams, w io.Writer) (bool, error) {

	ctx := context.Background()
	format := params.outputFormat.String()

	m := metrics.New()
	output, err := evalOnce(ctx, args[0], params, m)
	if err != nil {
		output = pr.Output{Errors: pr.NewOutputErrors(err)}
	}
	if params.metrics {
		output.Metrics = m
	}

	if werr := writeOutput(w, format, output.WithLimit(params.prettyLimit)); werr != nil {
		return false, werr
	}
	if err != nil {
		return false, evalError{err}
	}
	return len(output.Result) > 0, nil
}

func evalOnce(ctx context.Context, query string, params evalCommandParams, m metrics.Metrics) (pr.Output, error) {
	cfg, err := loadConfig(params.configFile)
	if err != nil {
		return pr.Output{}, err
	}

	policy, err := defaultPolicy(params.policy, params.files)
	if err != nil {
		return pr.Output{}, err
	}

	rt, err := newRuntime(ctx, runtime.Params{Config: cfg, Metrics: m}, params.files)
	if err != nil {
		return pr.Output{}, err
	}

	body, err := rt.ParseQuery(query)
	if err != nil {
		return pr.Output{}, err
	}

	opts := theory.QueryOptions{FindAll: true}
	var tracer *topdown.BufferTracer
	if params.explain.String() == explainTrace {
		if tracer, err = topdown.NewBufferTracer(cfg.Trace.Patterns...); err != nil {
			return pr.Output{}, err
		}
		opts.Tracer = tracer
	}

	answers, err := rt.Select(ctx, policy, query, opts)
	if err != nil {
		return pr.Output{}, err
	}

	output := pr.Output{Result: pr.NewResultSet(body, answers)}
	if tracer != nil {
		output.Explanation = tracer.Events()
	}

	if params.explain.String() == explainProofs {
		proofs, err := rt.Explain(ctx, policy, query, theory.QueryOptions{FindAll: true})
		if err != nil {
			return pr.Output{}, err
		}
		output = output.WithProofs(proofs)
	}

	return output, nil
}

func writeOutput(w io.Writer, format string, output pr.Output) error {
	switch format {
	case formatJSON:
		return pr.JSON(w, output)
	case formatRaw:
		return pr.Raw(w, output)
	case formatBindings:
		return pr.Bindings(w, output)
	default:
		return pr.Pretty(w, output)
	}
}

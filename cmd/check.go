// Copyright 2017 The OPA Authors.  All rights reserved.
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

type checkParams struct {
	configFile string
	format     *util.EnumFlag
	errLimit   int
}

func newCheckParams() checkParams {
	return checkParams{
		format: newFormatFlag(formatJSON),
	}
}

func checkPolicies(params checkParams, args []string, w io.Writer) error {
	cfg, err := loadConfig(params.configFile)
	if err != nil {
		return err
	}

	_, err = newRuntime(context.Background(), runtime.Params{Config: cfg}, args)
	if err == nil {
		return nil
	}

	errs := pr.NewOutputErrors(err)
	if params.errLimit > 0 && len(errs) > params.errLimit {
		errs = errs[:params.errLimit]
	}

	switch params.format.String() {
	case formatJSON:
		if werr := pr.JSON(w, pr.Output{Errors: errs}); werr != nil {
			return werr
		}
	default:
		fmt.Fprintln(w, pr.OutputErrors(errs))
	}
	return err
}

func init() {
	params := newCheckParams()

	checkCommand := &cobra.Command{
		Use:   "check <path> [path [...]]",
		Short: "Check policy files",
		Long: `Check policy files for errors.

The 'check' command loads every file into the policy named by its base name (or
given as policy=path) and reports the errors found: parse errors, unsafe
variables, column mismatches, recursion and stratification violations.

The data sources and policies of the configuration file are loaded first.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("specify at least one file")
			}
			return env.CmdFlags.CheckEnvironmentVariables(cmd)
		},
		Run: func(_ *cobra.Command, args []string) {
			if err := checkPolicies(params, args, os.Stdout); err != nil {
				os.Exit(1)
			}
		},
	}

	setConfigFile(checkCommand.Flags(), &params.configFile)
	setFormat(checkCommand.Flags(), params.format)
	checkCommand.Flags().IntVarP(&params.errLimit, "max-errors", "m", 10, "set the number of errors to report, 0 for all")
	RootCommand.AddCommand(checkCommand)
}

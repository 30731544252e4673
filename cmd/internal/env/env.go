// Copyright 2023 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package env maps environment variables onto command flags.
package env

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type cmdFlags interface {
	CheckEnvironmentVariables(command *cobra.Command) error
}

type cmdFlagsImpl struct{}

var (
	// CmdFlags sets unset flags of a command from the environment. The
	// variable of flag "some-flag" of command "eval" is CONGRESS_EVAL_SOME_FLAG.
	CmdFlags           cmdFlags = cmdFlagsImpl{}
	errorMessagePrefix          = "error mapping environment variables to command flags"
)

const globalPrefix = "congress"

// Prefix returns the environment variable prefix of the command.
func Prefix(command *cobra.Command) string {
	if command.Name() == globalPrefix {
		return globalPrefix
	}
	return fmt.Sprintf("%s_%s", globalPrefix, command.Name())
}

func (cmdFlagsImpl) CheckEnvironmentVariables(command *cobra.Command) error {
	var errs []string
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvPrefix(Prefix(command))

	command.Flags().VisitAll(func(f *pflag.Flag) {
		configName := strings.ReplaceAll(f.Name, "-", "_")
		if f.Changed || !v.IsSet(configName) {
			return
		}
		val := v.Get(configName)

		// Slice flags take whitespace separated values.
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(cast.ToStringSlice(val)); err != nil {
				errs = append(errs, fmt.Sprintf("%v: %v", f.Name, err))
			}
			return
		}
		if err := command.Flags().Set(f.Name, cast.ToString(val)); err != nil {
			errs = append(errs, err.Error())
		}
	})

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", errorMessagePrefix, strings.Join(errs, "; "))
}

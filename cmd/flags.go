// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/spf13/pflag"

	"github.com/openstack-archive/congress-sub001/util"
)

const (
	formatPretty   = "pretty"
	formatJSON     = "json"
	formatRaw      = "raw"
	formatBindings = "bindings"

	explainOff    = "off"
	explainTrace  = "trace"
	explainProofs = "proofs"
)

func newFormatFlag(vs ...string) *util.EnumFlag {
	return util.NewEnumFlag(formatPretty, append([]string{formatPretty}, vs...))
}

func setConfigFile(fs *pflag.FlagSet, configFile *string) {
	fs.StringVarP(configFile, "config-file", "c", "", "set path of configuration file")
}

func setFiles(fs *pflag.FlagSet, files *[]string) {
	fs.StringSliceVarP(files, "file", "f", []string{}, "set policy file(s) to load, as [policy=]path (the policy defaults to the file name)")
}

func setPolicy(fs *pflag.FlagSet, policy *string) {
	fs.StringVarP(policy, "policy", "p", "", "set policy to query (defaults to the policy of the only file)")
}

func setFormat(fs *pflag.FlagSet, format *util.EnumFlag) {
	fs.VarP(format, "format", "", "set output format")
}

func setExplain(fs *pflag.FlagSet, explain *util.EnumFlag) {
	fs.VarP(explain, "explain", "", "enable query explanations")
}

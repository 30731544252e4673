// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/spf13/cobra"
)

// RootCommand is the base CLI command that all subcommands are added to.
var RootCommand = &cobra.Command{
	Use:          "congress",
	Short:        "Congress policy engine",
	Long:         "A Datalog policy engine that monitors cloud services and enforces policies on them.",
	SilenceUsage: true,
}

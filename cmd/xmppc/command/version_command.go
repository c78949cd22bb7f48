// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package command

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"mellium.im/client/version"
)

// NewVersionCommand returns the cobra command for "version".
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version of xmppc",
		Run:   versionCommandFunc,
	}
}

func versionCommandFunc(cmd *cobra.Command, _ []string) {
	fmt.Fprintln(cmd.OutOrStdout(), "xmppc version:", version.Version)
	fmt.Fprintln(cmd.OutOrStdout(), "Go version:", runtime.Version())
}

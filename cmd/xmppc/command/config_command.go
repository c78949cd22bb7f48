// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package command

import (
	"github.com/spf13/cobra"

	"mellium.im/client"
)

// NewConfigCommand returns the cobra command for "config".
func NewConfigCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration, including defaults and environment overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := client.LoadConfig(flags.ConfigFile)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The xmppc command connects to an XMPP server and keeps the session alive.
package main

import (
	"time"

	"github.com/spf13/cobra"

	"mellium.im/client/cmd/xmppc/command"
)

const (
	cliName        = "xmppc"
	cliDescription = "A command line XMPP client."

	defaultConfigFile     = "xmppc.yaml"
	defaultConnectTimeout = 30 * time.Second
)

var globalFlags = command.GlobalFlags{}

var rootCmd = &cobra.Command{
	Use:           cliName,
	Short:         cliDescription,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", defaultConfigFile, "path to the config file")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.ConnectTimeout, "connect-timeout", defaultConnectTimeout, "timeout for the first connection attempt")

	rootCmd.AddCommand(
		command.NewConnectCommand(&globalFlags),
		command.NewConfigCommand(&globalFlags),
		command.NewVersionCommand(),
	)
	cobra.EnablePrefixMatching = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		command.ExitWithError(command.ExitError, err)
	}
}

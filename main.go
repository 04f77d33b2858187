// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package main

import (
	"fmt"
	"os"

	"github.com/ngfw-io/router-agent/cmd"
	"github.com/ngfw-io/router-agent/internal/sdk"
)

func main() {
	command := cmd.NewCommand(sdk.Version, sdk.GitCommit)
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err) //nolint:errcheck
		os.Exit(1)
	}
}

package main

import (
	"os"

	ippanbridge "github.com/dmrl789/ippan-bridge"
	"github.com/urfave/cli/v2"
)

func versionCmd(*cli.Context) error {
	ippanbridge.PrintVersion(os.Stdout)
	return nil
}

package main

import (
	"errors"
	"os"

	"github.com/megaputer/pa6-go/pkg/pa6"
)

// Exit codes. An operation that ran but failed on the server is told apart
// from errors that kept the command from running at all.
const (
	exitError           = 1
	exitOperationFailed = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, pa6.ErrOperationFailed) {
			printError(err)
			os.Exit(exitOperationFailed)
		}

		exitOnError(err)
	}
}

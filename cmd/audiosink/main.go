// Package main is the audio sink appliance.
package main

import (
	"fmt"
	"os"

	"go.viam.com/audiosink/logging"
)

func main() {
	err := newApp().Run(os.Args)
	logger := logging.Global()
	if err != nil {
		logger.Error(err)
	}
	if closeErr := logger.Close(); closeErr != nil {
		fmt.Fprintln(os.Stderr, closeErr)
	}
	if err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"invoice-relay-go/internal/app"
)

// runonce executes a single batch and exits: 0 when the run completed
// (individual message failures are reported, not fatal), non-zero on a setup
// or batch-level failure.
func main() {
	if err := app.RunOnce(); err != nil {
		logrus.Errorf("batch run failed: %v", err)
		os.Exit(1)
	}
}

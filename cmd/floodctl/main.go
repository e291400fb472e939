// Command floodctl is the operator tool for the flood risk model lifecycle:
// ingest source data into a snapshot, train and publish model artifacts, and
// run one-off predictions against the published models.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(observability.NewMetrics()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

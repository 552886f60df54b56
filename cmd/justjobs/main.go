package main

import (
	"os"

	"github.com/albachteng/justjobs/internal/jobs"
)

func main() {
	registry := jobs.NewRegistry()
	registerExampleJobs(registry)

	if err := newRootCommand(registry).Execute(); err != nil {
		os.Exit(1)
	}
}

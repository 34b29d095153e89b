package run

import "github.com/lambda-feedback/jobproc/internal/execution/process"

type Config struct {
	// Start describes the command to supervise
	Start process.StartConfig `conf:",squash"`
}

package batch

import "github.com/lambda-feedback/jobproc/internal/jobfile"

type Config struct {
	// File holds the jobs to run
	File *jobfile.File
}

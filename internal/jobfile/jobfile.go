// Package jobfile loads batch job definitions and .env files.
package jobfile

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/file"
	"github.com/lambda-feedback/jobproc/internal/execution/dispatcher"
	"github.com/lambda-feedback/jobproc/internal/execution/process"
	"github.com/lambda-feedback/jobproc/util"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed job-file.json
var jobFileSchema json.RawMessage
var jobFileSchemaLoader = gojsonschema.NewBytesLoader(jobFileSchema)
var jobFileSchemaCompiled = util.Must(gojsonschema.NewSchema(jobFileSchemaLoader))

var ErrInvalidJobFile = errors.New("invalid job file")

// ValidationError lists the schema violations of a job file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidJobFile, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidJobFile
}

// File is a parsed job file.
type File struct {
	// MaxProcs is the maximum number of concurrently running jobs,
	// 0 if the file does not set it
	MaxProcs int

	// Jobs are the jobs to run
	Jobs []dispatcher.Job
}

type rawFile struct {
	MaxProcs int      `json:"max_procs"`
	Jobs     []rawJob `json:"jobs"`
}

type rawJob struct {
	Name        string            `json:"name"`
	Command     []string          `json:"command"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
	EnvFile     string            `json:"env_file"`
	KillTimeout string            `json:"kill_timeout"`
}

// Load reads, validates and parses the job file at path. Relative cwd
// and env_file entries are resolved against the directory of the file.
func Load(path string) (*File, error) {
	data, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	return Parse(data, filepath.Dir(path))
}

// Parse validates and parses a job file. Relative paths are resolved
// against baseDir.
func Parse(data []byte, baseDir string) (*File, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode job file: %w", err)
	}

	jobs := make([]dispatcher.Job, 0, len(raw.Jobs))
	for _, rj := range raw.Jobs {
		job, err := rj.toJob(baseDir)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", rj.Name, err)
		}

		jobs = append(jobs, job)
	}

	return &File{
		MaxProcs: raw.MaxProcs,
		Jobs:     jobs,
	}, nil
}

func (rj rawJob) toJob(baseDir string) (dispatcher.Job, error) {
	env := map[string]string{}

	if rj.EnvFile != "" {
		fileEnv, err := LoadEnvFile(resolve(baseDir, rj.EnvFile))
		if err != nil {
			return dispatcher.Job{}, err
		}

		for k, v := range fileEnv {
			env[k] = v
		}
	}

	// explicit entries win over the env file
	for k, v := range rj.Env {
		env[k] = v
	}

	var killTimeout time.Duration
	if rj.KillTimeout != "" {
		var err error
		if killTimeout, err = time.ParseDuration(rj.KillTimeout); err != nil {
			return dispatcher.Job{}, fmt.Errorf("invalid kill timeout: %w", err)
		}
	}

	var cwd string
	if rj.Cwd != "" {
		cwd = resolve(baseDir, rj.Cwd)
	}

	return dispatcher.Job{
		Name: rj.Name,
		Start: process.StartConfig{
			Command: rj.Command,
			Cwd:     cwd,
			Env:     env,
		},
		KillTimeout: killTimeout,
	}, nil
}

func validate(data []byte) error {
	result, err := jobFileSchemaCompiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJobFile, err)
	}

	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}

	return &ValidationError{Errors: errs}
}

// LoadEnvFile parses a .env file into an environment overlay.
func LoadEnvFile(path string) (map[string]string, error) {
	data, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	values, err := dotenv.Parser().Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}

	env := make(map[string]string, len(values))
	for k, v := range values {
		env[k] = fmt.Sprint(v)
	}

	return env, nil
}

// MARK: - Helpers

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}

	return filepath.Join(baseDir, path)
}

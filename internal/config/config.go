// internal/config/config.go
//
// This package loads the seqrun configuration file. One YAML file carries the
// system settings (`system:`) and the ordered step list (`steps:`); SEQRUN_*
// environment variables override system settings after the file is read.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/seqrun/internal/workflow"
)

// DefaultFile is the configuration file looked up when no path is given.
const DefaultFile = "seqrun.yaml"

// ErrConfigLoad marks configuration problems that must abort before any step.
var ErrConfigLoad = errors.New("config: load failure")

// QueryFailurePolicy decides how the job monitor treats a failed status query.
type QueryFailurePolicy string

const (
	// QueryRetry keeps polling and fails the wait after too many consecutive
	// query failures.
	QueryRetry QueryFailurePolicy = "retry"
	// QueryAssumeComplete treats a failed query as "job no longer queued".
	QueryAssumeComplete QueryFailurePolicy = "assume-complete"
)

// CoverageMode decides how extraction treats gaps and duplicate grid points.
type CoverageMode string

const (
	CoverageStrict  CoverageMode = "strict"
	CoverageLenient CoverageMode = "lenient"
)

// SchedulerConfig names the batch scheduler commands.
type SchedulerConfig struct {
	SubmitCommand string   `yaml:"submit_command" env:"SEQRUN_SUBMIT_COMMAND"`
	QueryCommand  string   `yaml:"query_command" env:"SEQRUN_QUERY_COMMAND"`
	QueryArgs     []string `yaml:"query_args" env:"SEQRUN_QUERY_ARGS" envSeparator:" "`
	SubmitMarker  string   `yaml:"submit_marker" env:"SEQRUN_SUBMIT_MARKER"`
}

// SystemConfig models the `system:` block.
type SystemConfig struct {
	SourceDir          string                  `yaml:"source_dir" env:"SEQRUN_SOURCE_DIR"`
	JobScript          string                  `yaml:"job_script" env:"SEQRUN_JOB_SCRIPT"`
	InputFile          string                  `yaml:"input_file" env:"SEQRUN_INPUT_FILE"`
	RestartFile        string                  `yaml:"restart_file" env:"SEQRUN_RESTART_FILE"`
	NumChunks          int                     `yaml:"num_chunks" env:"SEQRUN_NUM_CHUNKS"`
	ChunkPattern       string                  `yaml:"chunk_pattern" env:"SEQRUN_CHUNK_PATTERN"`
	CheckInterval      time.Duration           `yaml:"check_interval" env:"SEQRUN_CHECK_INTERVAL"`
	HeartbeatInterval  time.Duration           `yaml:"heartbeat_interval" env:"SEQRUN_HEARTBEAT_INTERVAL"`
	MaxWait            time.Duration           `yaml:"max_wait" env:"SEQRUN_MAX_WAIT"`
	QueryFailurePolicy QueryFailurePolicy      `yaml:"query_failure_policy" env:"SEQRUN_QUERY_FAILURE_POLICY"`
	MaxQueryFailures   int                     `yaml:"max_query_failures" env:"SEQRUN_MAX_QUERY_FAILURES"`
	Coverage           CoverageMode            `yaml:"coverage" env:"SEQRUN_COVERAGE"`
	LogFile            string                  `yaml:"log_file" env:"SEQRUN_LOG_FILE"`
	WorkDirPrefix      string                  `yaml:"workdir_prefix" env:"SEQRUN_WORKDIR_PREFIX"`
	IgnorePatterns     []string                `yaml:"ignore_patterns"`
	MetricsFile        string                  `yaml:"metrics_file" env:"SEQRUN_METRICS_FILE"`
	Scheduler          SchedulerConfig         `yaml:"scheduler"`
	Continuity         workflow.ContinuityRule `yaml:"continuity"`
}

// Config holds everything a run needs.
type Config struct {
	// Path is the configuration file that was read.
	Path string
	// BaseDir is the directory relative paths resolve against.
	BaseDir string

	System SystemConfig
	Plan   workflow.Plan
}

type fileConfig struct {
	System *SystemConfig `yaml:"system"`
}

// Defaults returns the system settings used when the file omits them.
func Defaults() SystemConfig {
	return SystemConfig{
		SourceDir:          "origin",
		JobScript:          "V-3.sh",
		InputFile:          "inputN.in",
		RestartFile:        "pxyz.in",
		NumChunks:          20,
		ChunkPattern:       "PELOOP.%08d.dat",
		CheckInterval:      60 * time.Second,
		HeartbeatInterval:  10 * time.Minute,
		QueryFailurePolicy: QueryRetry,
		MaxQueryFailures:   5,
		Coverage:           CoverageStrict,
		LogFile:            "sequential_run.log",
		WorkDirPrefix:      "seq_run",
		IgnorePatterns:     []string{"*.dat", "PELOOP.*", "slurm-*", "fort.*", "energy_out.dat"},
		Scheduler: SchedulerConfig{
			SubmitCommand: "sbatch",
			QueryCommand:  "squeue",
			QueryArgs:     []string{"-h", "-j"},
			SubmitMarker:  "Submitted batch job",
		},
		Continuity: workflow.DefaultContinuityRule(),
	}
}

// Load reads path (DefaultFile when empty), applies defaults and environment
// overrides, and validates the result. Every failure wraps ErrConfigLoad.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrConfigLoad, path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfigLoad, abs, err)
	}
	cfg, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	cfg.Path = abs
	return cfg, nil
}

// Parse decodes configuration bytes; baseDir anchors relative paths.
func Parse(data []byte, baseDir string) (*Config, error) {
	parsed := fileConfig{System: ptr(Defaults())}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrConfigLoad, err)
	}
	// An empty `system:` block decodes as null.
	if parsed.System == nil {
		parsed.System = ptr(Defaults())
	}
	sys := *parsed.System
	if err := env.Parse(&sys); err != nil {
		return nil, fmt.Errorf("%w: parse env: %v", ErrConfigLoad, err)
	}
	sys.applyDefaults()
	sys.normalize(baseDir)
	if err := sys.validate(); err != nil {
		return nil, fmt.Errorf("%w: system: %v", ErrConfigLoad, err)
	}
	plan, err := workflow.ParsePlanYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigLoad, err)
	}
	return &Config{BaseDir: baseDir, System: sys, Plan: plan}, nil
}

// LogPath returns the log file location.
func (c *Config) LogPath() string {
	return c.System.LogFile
}

// Preflight runs the advisory continuity checks against the loaded plan.
func (c *Config) Preflight() []workflow.Issue {
	return workflow.Preflight(c.Plan, c.System.Continuity)
}

func (sc *SystemConfig) applyDefaults() {
	def := Defaults()
	if sc.SourceDir == "" {
		sc.SourceDir = def.SourceDir
	}
	if sc.JobScript == "" {
		sc.JobScript = def.JobScript
	}
	if sc.InputFile == "" {
		sc.InputFile = def.InputFile
	}
	if sc.RestartFile == "" {
		sc.RestartFile = def.RestartFile
	}
	if sc.NumChunks == 0 {
		sc.NumChunks = def.NumChunks
	}
	if sc.ChunkPattern == "" {
		sc.ChunkPattern = def.ChunkPattern
	}
	if sc.CheckInterval == 0 {
		sc.CheckInterval = def.CheckInterval
	}
	if sc.HeartbeatInterval == 0 {
		sc.HeartbeatInterval = def.HeartbeatInterval
	}
	if sc.QueryFailurePolicy == "" {
		sc.QueryFailurePolicy = def.QueryFailurePolicy
	}
	if sc.MaxQueryFailures == 0 {
		sc.MaxQueryFailures = def.MaxQueryFailures
	}
	if sc.Coverage == "" {
		sc.Coverage = def.Coverage
	}
	if sc.LogFile == "" {
		sc.LogFile = def.LogFile
	}
	if sc.WorkDirPrefix == "" {
		sc.WorkDirPrefix = def.WorkDirPrefix
	}
	if sc.Scheduler.SubmitCommand == "" {
		sc.Scheduler.SubmitCommand = def.Scheduler.SubmitCommand
	}
	if sc.Scheduler.QueryCommand == "" {
		sc.Scheduler.QueryCommand = def.Scheduler.QueryCommand
	}
	if sc.Scheduler.SubmitMarker == "" {
		sc.Scheduler.SubmitMarker = def.Scheduler.SubmitMarker
	}
}

func (sc *SystemConfig) normalize(base string) {
	sc.QueryFailurePolicy = QueryFailurePolicy(strings.ToLower(strings.TrimSpace(string(sc.QueryFailurePolicy))))
	sc.Coverage = CoverageMode(strings.ToLower(strings.TrimSpace(string(sc.Coverage))))
	sc.SourceDir = resolvePath(base, sc.SourceDir)
	sc.LogFile = resolvePath(base, sc.LogFile)
	sc.MetricsFile = resolvePath(base, sc.MetricsFile)
	sc.JobScript = strings.TrimSpace(sc.JobScript)
	sc.InputFile = strings.TrimSpace(sc.InputFile)
	sc.RestartFile = strings.TrimSpace(sc.RestartFile)
}

func (sc SystemConfig) validate() error {
	if sc.NumChunks < 1 {
		return fmt.Errorf("num_chunks must be >= 1")
	}
	if !strings.Contains(sc.ChunkPattern, "%") {
		return fmt.Errorf("chunk_pattern %q must contain an integer verb", sc.ChunkPattern)
	}
	if sc.CheckInterval < 0 || sc.HeartbeatInterval < 0 || sc.MaxWait < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if sc.MaxQueryFailures < 1 {
		return fmt.Errorf("max_query_failures must be >= 1")
	}
	switch sc.QueryFailurePolicy {
	case QueryRetry, QueryAssumeComplete:
	default:
		return fmt.Errorf("query_failure_policy must be 'retry' or 'assume-complete'")
	}
	switch sc.Coverage {
	case CoverageStrict, CoverageLenient:
	default:
		return fmt.Errorf("coverage must be 'strict' or 'lenient'")
	}
	for name, value := range map[string]string{
		"job_script":   sc.JobScript,
		"input_file":   sc.InputFile,
		"restart_file": sc.RestartFile,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		if filepath.IsAbs(value) || strings.ContainsRune(value, filepath.Separator) {
			return fmt.Errorf("%s must be a file name inside the work directory, got %q", name, value)
		}
	}
	if sc.Continuity.Line < 0 || sc.Continuity.KStepField < 0 || sc.Continuity.KStartField < 0 {
		return fmt.Errorf("continuity fields must not be negative")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ptr[T any](v T) *T {
	return &v
}

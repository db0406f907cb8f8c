package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalSteps = `
steps:
  - name: "Step 1"
    final_step: 5000
    edits:
      - line: 8
        content: "5000 1000 1000 0"
`

func TestParseAppliesDefaults(t *testing.T) {
	base := t.TempDir()
	cfg, err := Parse([]byte(minimalSteps), base)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sys := cfg.System
	if sys.NumChunks != 20 {
		t.Fatalf("num_chunks = %d, want 20", sys.NumChunks)
	}
	if sys.ChunkPattern != "PELOOP.%08d.dat" {
		t.Fatalf("chunk_pattern = %q", sys.ChunkPattern)
	}
	if sys.CheckInterval != time.Minute {
		t.Fatalf("check_interval = %v, want 1m", sys.CheckInterval)
	}
	if sys.QueryFailurePolicy != QueryRetry {
		t.Fatalf("policy = %q, want retry", sys.QueryFailurePolicy)
	}
	if sys.SourceDir != filepath.Join(base, "origin") {
		t.Fatalf("source_dir not resolved: %s", sys.SourceDir)
	}
	if sys.Scheduler.SubmitMarker != "Submitted batch job" {
		t.Fatalf("submit_marker = %q", sys.Scheduler.SubmitMarker)
	}
	if len(sys.Scheduler.QueryArgs) != 2 || sys.Scheduler.QueryArgs[1] != "-j" {
		t.Fatalf("query_args = %v", sys.Scheduler.QueryArgs)
	}
	if cfg.Plan.Len() != 1 {
		t.Fatalf("plan length = %d, want 1", cfg.Plan.Len())
	}
}

func TestParseEmptySystemBlockUsesDefaults(t *testing.T) {
	base := t.TempDir()
	cfg, err := Parse([]byte("system:\n  # all defaults\n"+minimalSteps), base)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.System.NumChunks != 20 {
		t.Fatalf("num_chunks = %d, want 20", cfg.System.NumChunks)
	}
	if cfg.System.JobScript != "V-3.sh" {
		t.Fatalf("job_script = %q, want V-3.sh", cfg.System.JobScript)
	}
	if cfg.Plan.Len() != 1 {
		t.Fatalf("plan length = %d, want 1", cfg.Plan.Len())
	}
}

func TestParseReadsSystemBlock(t *testing.T) {
	payload := strings.TrimSpace(`
system:
  source_dir: /data/origin
  num_chunks: 4
  check_interval: 5s
  max_wait: 2h
  query_failure_policy: Assume-Complete
  coverage: lenient
  scheduler:
    submit_command: qsub
    submit_marker: "Your job"
`) + "\n" + minimalSteps
	cfg, err := Parse([]byte(payload), t.TempDir())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sys := cfg.System
	if sys.SourceDir != "/data/origin" {
		t.Fatalf("source_dir = %s", sys.SourceDir)
	}
	if sys.NumChunks != 4 || sys.CheckInterval != 5*time.Second || sys.MaxWait != 2*time.Hour {
		t.Fatalf("unexpected system values: %+v", sys)
	}
	if sys.QueryFailurePolicy != QueryAssumeComplete {
		t.Fatalf("policy = %q", sys.QueryFailurePolicy)
	}
	if sys.Coverage != CoverageLenient {
		t.Fatalf("coverage = %q", sys.Coverage)
	}
	if sys.Scheduler.SubmitCommand != "qsub" || sys.Scheduler.QueryCommand != "squeue" {
		t.Fatalf("scheduler = %+v", sys.Scheduler)
	}
}

func TestParseEnvironmentOverrides(t *testing.T) {
	t.Setenv("SEQRUN_NUM_CHUNKS", "8")
	t.Setenv("SEQRUN_CHECK_INTERVAL", "30s")
	t.Setenv("SEQRUN_QUERY_ARGS", "--noheader --jobs")
	cfg, err := Parse([]byte(minimalSteps), t.TempDir())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.System.NumChunks != 8 {
		t.Fatalf("num_chunks = %d, want 8", cfg.System.NumChunks)
	}
	if cfg.System.CheckInterval != 30*time.Second {
		t.Fatalf("check_interval = %v", cfg.System.CheckInterval)
	}
	if got := strings.Join(cfg.System.Scheduler.QueryArgs, ","); got != "--noheader,--jobs" {
		t.Fatalf("query_args = %s", got)
	}
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"bad policy":   "system:\n  query_failure_policy: ignore\n" + minimalSteps,
		"bad coverage": "system:\n  coverage: partial\n" + minimalSteps,
		"bad pattern":  "system:\n  chunk_pattern: PELOOP.dat\n" + minimalSteps,
		"nested input": "system:\n  input_file: sub/inputN.in\n" + minimalSteps,
		"no steps":     "system:\n  num_chunks: 2\n",
		"bad yaml":     "steps: [",
	}
	for name, payload := range cases {
		_, err := Parse([]byte(payload), t.TempDir())
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, ErrConfigLoad) {
			t.Fatalf("%s: error %v does not wrap ErrConfigLoad", name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, ErrConfigLoad) {
		t.Fatalf("err = %v, want ErrConfigLoad", err)
	}
}

func TestLoadResolvesAgainstFileDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seqrun.yaml")
	if err := os.WriteFile(path, []byte("system:\n  log_file: logs/run.log\n"+minimalSteps), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogPath() != filepath.Join(dir, "logs", "run.log") {
		t.Fatalf("log path = %s", cfg.LogPath())
	}
	if issues := cfg.Preflight(); len(issues) != 0 {
		t.Fatalf("unexpected preflight issues: %v", issues)
	}
}

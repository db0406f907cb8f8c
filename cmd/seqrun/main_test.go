package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/seqrun/internal/batch"
	"github.com/kingrea/seqrun/internal/checkpoint"
	"github.com/kingrea/seqrun/internal/config"
	"github.com/kingrea/seqrun/internal/runstate"
)

const testConfig = `
system:
  num_chunks: 2
  check_interval: 5ms
  continuity:
    line: 2
    kstep_field: 0
    kstart_field: 3
steps:
  - name: Field on
    description: phi0=40
    final_step: 10
    edits:
      - line: 2
        content: "10 1 1 0"
  - name: Relax
    final_step: 20
    edits:
      - line: 2
        content: "10 1 1 10"
`

// fakeSlurm answers sbatch and squeue. Each submission writes the chunk
// files the job would leave behind unless failAt names that submission.
type fakeSlurm struct {
	mu      sync.Mutex
	targets []int
	submits int
	failAt  int
	calls   []string
}

func (f *fakeSlurm) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	switch name {
	case "sbatch":
		f.submits++
		if f.submits == f.failAt {
			return []byte("sbatch: error: Batch job submission failed\n"), nil
		}
		target := f.targets[f.submits-1]
		for rank := 0; rank < 2; rank++ {
			body := fmt.Sprintf("1 2 1\n1 %d 1 %d.5 0 0\n", rank+1, f.submits)
			path := filepath.Join(dir, fmt.Sprintf("PELOOP.%08d.dat", target+rank))
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return nil, err
			}
		}
		return []byte(fmt.Sprintf("Submitted batch job %d\n", 700+f.submits)), nil
	case "squeue":
		return nil, nil
	}
	return nil, errors.New("unexpected command " + name)
}

type env struct {
	root   string
	config string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func setup(t *testing.T, cfg string) env {
	t.Helper()
	root := t.TempDir()
	origin := filepath.Join(root, "origin")
	require.NoError(t, os.MkdirAll(origin, 0o755))
	files := map[string]string{
		"V-3.sh":              "#!/bin/sh\nsrun ./pfm\n",
		"inputN.in":           "title\n5000 1000 1000 0 ! kstep kprint kbackup kstart\nend\n",
		"pxyz.in":             "1 2 1\n",
		"PELOOP.00000005.dat": "stale\n",
		"slurm-42.out":        "old log\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(origin, name), []byte(body), 0o644))
	}
	path := filepath.Join(root, config.DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return env{root: root, config: path, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
}

func (e env) execute(t *testing.T, runner batch.Runner, args ...string) error {
	t.Helper()
	c := &cli{stdin: strings.NewReader(""), stdout: e.stdout, stderr: e.stderr, runner: runner}
	cmd := newRootCmd(c)
	cmd.SetArgs(append(args, "--config", e.config))
	return cmd.ExecuteContext(context.Background())
}

func workDirs(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, "seq_run_*"))
	require.NoError(t, err)
	return matches
}

func TestRunCompletesAllSteps(t *testing.T) {
	e := setup(t, testConfig)
	slurm := &fakeSlurm{targets: []int{10, 20}}

	require.NoError(t, e.execute(t, slurm, "run", "--auto-yes"))
	assert.Contains(t, e.stdout.String(), "All 2 steps completed successfully.")

	dirs := workDirs(t, e.root)
	require.Len(t, dirs, 1)
	work := dirs[0]
	_, err := os.Stat(filepath.Join(work, "PELOOP.00000005.dat"))
	assert.True(t, os.IsNotExist(err), "ignored files must not be copied")
	_, err = os.Stat(filepath.Join(work, "slurm-42.out"))
	assert.True(t, os.IsNotExist(err))

	input, err := os.ReadFile(filepath.Join(work, "inputN.in"))
	require.NoError(t, err)
	assert.Equal(t, "title\n10 1 1 10 ! kstep kprint kbackup kstart\nend\n", string(input))

	restart, err := os.ReadFile(filepath.Join(work, "pxyz.in"))
	require.NoError(t, err)
	assert.Equal(t, "1 2 1\n1 1 1 2.50000e+00 0.00000e+00 0.00000e+00\n1 2 1 2.50000e+00 0.00000e+00 0.00000e+00\n", string(restart))

	manifest, err := checkpoint.ReadManifest(filepath.Join(work, "step1_backup"))
	require.NoError(t, err)
	assert.Equal(t, []string{"inputN.in", "pxyz.in"}, manifest.Files)

	state, err := runstate.NewRepository(filepath.Join(work, ".seqrun", "state.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, runstate.RunStatusCompleted, state.Status)
	assert.Equal(t, 2, state.Completed())

	logData, err := os.ReadFile(filepath.Join(e.root, "sequential_run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "job submitted")
	assert.Contains(t, slurm.calls, "squeue -h -j 701")
}

func TestRunHaltsAndResumes(t *testing.T) {
	e := setup(t, testConfig)
	slurm := &fakeSlurm{targets: []int{10, 20}, failAt: 2}

	err := e.execute(t, slurm, "run", "--auto-yes")
	var exit exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, e.stdout.String(), "Run halted at step 2/2, stage submit: SubmissionFailure")

	work := workDirs(t, e.root)[0]
	_, err = os.Stat(filepath.Join(work, "step1_backup", "pxyz.in"))
	require.NoError(t, err, "backups of completed steps remain")

	e.stdout.Reset()
	require.NoError(t, e.execute(t, slurm, "status", "--workdir", work, "--tail", "5"))
	assert.Contains(t, e.stdout.String(), "--from-step 2")
	assert.Contains(t, e.stdout.String(), "Last 5 lines of")

	e.stdout.Reset()
	slurm.failAt = 0
	slurm.targets = []int{10, 20, 20}
	require.NoError(t, e.execute(t, slurm, "resume", "--workdir", work, "--auto-yes"))
	assert.Contains(t, e.stdout.String(), "Resuming "+work+" at step 2 of 2")
	assert.Contains(t, e.stdout.String(), "All 2 steps completed successfully.")

	e.stdout.Reset()
	require.NoError(t, e.execute(t, slurm, "resume", "--workdir", work, "--auto-yes"))
	assert.Contains(t, e.stdout.String(), "All 2 steps already completed")
}

func TestRunDeclinedAtPrompt(t *testing.T) {
	e := setup(t, testConfig)
	slurm := &fakeSlurm{targets: []int{10, 20}}
	c := &cli{stdin: strings.NewReader("n"), stdout: e.stdout, stderr: e.stderr, runner: slurm}
	cmd := newRootCmd(c)
	cmd.SetArgs([]string{"run", "--config", e.config})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, e.stdout.String(), "Execution cancelled by user.")
	assert.Zero(t, slurm.submits)
}

func TestPreviewExitCode(t *testing.T) {
	e := setup(t, testConfig)
	require.NoError(t, e.execute(t, nil, "preview"))
	assert.Contains(t, e.stdout.String(), "No continuity issues found.")

	broken := strings.Replace(testConfig, `"10 1 1 10"`, `"10 1 1 0"`, 1)
	e = setup(t, broken)
	err := e.execute(t, nil, "preview")
	var exit exitError
	require.True(t, errors.As(err, &exit))
	assert.Contains(t, e.stdout.String(), "Step 2: kstart=0 doesn't match previous final_step=10")
}

func TestRunMissingSourceDirectory(t *testing.T) {
	e := setup(t, strings.Replace(testConfig, "system:\n", "system:\n  source_dir: nowhere\n", 1))
	err := e.execute(t, &fakeSlurm{}, "run", "--auto-yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work directory missing")
}

func TestStatusWithoutState(t *testing.T) {
	e := setup(t, testConfig)
	err := e.execute(t, nil, "status", "--workdir", e.root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run state")
}

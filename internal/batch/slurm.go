package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// JobID identifies a submitted job. The empty value means "no identifier".
type JobID string

var (
	// ErrSubmitFailed reports a submit command that could not run or exited
	// non-zero.
	ErrSubmitFailed = errors.New("batch: submit failed")
	// ErrNoJobID reports submit output without the acknowledgment marker.
	ErrNoJobID = errors.New("batch: no job identifier in submit output")
	// ErrStatusQuery reports that the queue could not be queried.
	ErrStatusQuery = errors.New("batch: status query failed")
)

// Scheduler is the submit/query surface of a batch system.
type Scheduler interface {
	Submit(ctx context.Context, script, dir string) (JobID, error)
	IsActive(ctx context.Context, id JobID) (bool, error)
}

// SlurmOptions names the commands Slurm runs.
type SlurmOptions struct {
	SubmitCommand string
	QueryCommand  string
	// QueryArgs precede the job id, e.g. ["-h", "-j"].
	QueryArgs    []string
	SubmitMarker string
}

// Slurm submits with `sbatch <script>` and queries with `squeue -h -j <id>`
// by default.
type Slurm struct {
	runner Runner
	opts   SlurmOptions
	logger *zap.Logger
}

// NewSlurm wires a Slurm scheduler. A nil runner uses ExecRunner and a nil
// logger discards warnings.
func NewSlurm(runner Runner, opts SlurmOptions, logger *zap.Logger) *Slurm {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SubmitCommand == "" {
		opts.SubmitCommand = "sbatch"
	}
	if opts.QueryCommand == "" {
		opts.QueryCommand = "squeue"
	}
	if opts.SubmitMarker == "" {
		opts.SubmitMarker = "Submitted batch job"
	}
	return &Slurm{runner: runner, opts: opts, logger: logger}
}

var _ Scheduler = (*Slurm)(nil)

// Submit hands script to the scheduler from dir and returns the job id
// parsed from the acknowledgment.
func (s *Slurm) Submit(ctx context.Context, script, dir string) (JobID, error) {
	out, err := s.runner.Run(ctx, dir, s.opts.SubmitCommand, script)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	id, ok := ParseSubmitOutput(string(out), s.opts.SubmitMarker)
	if !ok {
		s.logger.Warn("unexpected submit output", zap.String("output", strings.TrimSpace(string(out))))
		return "", ErrNoJobID
	}
	return id, nil
}

// IsActive reports whether id still appears in the queue listing. A query
// rejected because the scheduler no longer knows the job counts as "not
// listed": squeue exits non-zero once a finished job has been purged.
func (s *Slurm) IsActive(ctx context.Context, id JobID) (bool, error) {
	args := append(append([]string{}, s.opts.QueryArgs...), string(id))
	out, err := s.runner.Run(ctx, "", s.opts.QueryCommand, args...)
	if err != nil {
		if ctx.Err() == nil && isUnknownJob(err) && !ListsJob(string(out), id) {
			s.logger.Debug("job no longer known to scheduler", zap.String("job_id", string(id)))
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStatusQuery, err)
	}
	return ListsJob(string(out), id), nil
}

// isUnknownJob matches squeue's rejection of a purged job id, e.g.
// "slurm_load_jobs error: Invalid job id specified".
func isUnknownJob(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "invalid job id")
}

// ParseSubmitOutput finds the first line containing marker and returns its
// last whitespace-separated token.
func ParseSubmitOutput(output, marker string) (JobID, bool) {
	if marker == "" {
		return "", false
	}
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, marker) {
			continue
		}
		rest := strings.TrimSpace(line[strings.Index(line, marker)+len(marker):])
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return "", false
		}
		return JobID(fields[len(fields)-1]), true
	}
	return "", false
}

// ListsJob reports whether the queue listing contains id as a token. Array
// job entries such as `1234_7` count as the parent id.
func ListsJob(listing string, id JobID) bool {
	if id == "" {
		return false
	}
	want := string(id)
	for _, field := range strings.Fields(listing) {
		if field == want || strings.HasPrefix(field, want+"_") {
			return true
		}
	}
	return false
}

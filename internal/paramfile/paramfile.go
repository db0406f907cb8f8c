// Package paramfile rewrites individual lines of fixed-format simulation
// parameter files. Line positions carry meaning, so the total line count and
// any trailing `!` comment on an edited line are always preserved.
package paramfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kingrea/seqrun/internal/fsutil"
	"github.com/kingrea/seqrun/internal/workflow"
)

// CommentMarker starts an inline comment in the parameter file.
const CommentMarker = "!"

// ErrLineOutOfRange reports an edit beyond the end of the file.
var ErrLineOutOfRange = errors.New("paramfile: line out of range")

// Apply rewrites the requested 1-indexed lines of path and leaves every other
// line byte-identical. Every edit is checked before the file is touched; the
// new content replaces the old file through a rename.
func Apply(path string, edits []workflow.ParamEdit) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("paramfile: read %s: %w", path, err)
	}
	lines := splitLines(data)
	for _, edit := range edits {
		if err := edit.Validate(); err != nil {
			return fmt.Errorf("paramfile: %w", err)
		}
		if edit.Line > len(lines) {
			return fmt.Errorf("%w: line %d requested, %s has %d lines", ErrLineOutOfRange, edit.Line, path, len(lines))
		}
	}
	for _, edit := range edits {
		lines[edit.Line-1] = ReplaceLine(lines[edit.Line-1], edit.Content)
	}
	mode := fsutil.FileMode(path, 0o644)
	if err := fsutil.WriteFileAtomic(path, []byte(strings.Join(lines, "")), mode); err != nil {
		return fmt.Errorf("paramfile: write %s: %w", path, err)
	}
	return nil
}

// ReplaceLine builds the replacement for one physical line (terminator
// included). A trailing comment is reattached after a single space and keeps
// its own terminator; otherwise the old terminator is reused, or "\n" when the
// line had none.
func ReplaceLine(old, content string) string {
	if idx := strings.Index(old, CommentMarker); idx >= 0 {
		return content + " " + old[idx:]
	}
	return content + terminator(old)
}

// Lines returns the physical lines of path without terminators.
func Lines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("paramfile: read %s: %w", path, err)
	}
	raw := splitLines(data)
	out := make([]string, len(raw))
	for i, line := range raw {
		out[i] = strings.TrimSuffix(line, terminator(line))
	}
	return out, nil
}

// splitLines cuts data after every '\n', keeping terminators, the same way a
// line-oriented reader would. A final line without '\n' is kept as-is.
func splitLines(data []byte) []string {
	var lines []string
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			lines = append(lines, string(data))
			break
		}
		lines = append(lines, string(data[:idx+1]))
		data = data[idx+1:]
	}
	return lines
}

func terminator(line string) string {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return "\r\n"
	case strings.HasSuffix(line, "\n"):
		return "\n"
	default:
		return "\n"
	}
}

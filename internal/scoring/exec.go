package scoring

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
)

// ExecCalculator shells out to an external performance calculator. The
// command receives the beatmap path plus accuracy/combo/miss/mod flags
// and must print the performance value as a decimal number on stdout.
type ExecCalculator struct {
	Command string
	Args    []string
}

// Compute implements Calculator.
func (e *ExecCalculator) Compute(ctx context.Context, beatmapPath string, accuracy float64, combo, misses int, mods []string) (float64, error) {
	args := make([]string, 0, len(e.Args)+9)
	args = append(args, e.Args...)
	args = append(args,
		beatmapPath,
		"--acc", strconv.FormatFloat(accuracy, 'f', 2, 64),
		"--combo", strconv.Itoa(combo),
		"--misses", strconv.Itoa(misses),
	)
	if len(mods) > 0 {
		args = append(args, "--mods", strings.Join(mods, ""))
	}

	cmd := exec.CommandContext(ctx, e.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, errors.New(fmt.Errorf("calculator failed: %w (%s)", err, strings.TrimSpace(stderr.String()))).
			Category(errors.CategoryCalculation).
			Context("command", e.Command).
			Build()
	}

	out := strings.TrimSpace(stdout.String())
	pp, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, errors.Newf("calculator produced non-numeric output %q", out).
			Category(errors.CategoryCalculation).
			Context("command", e.Command).
			Build()
	}

	return pp, nil
}

package detector

import (
	"context"
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PatternDetector detects worker processes by a substring of their command
// line, the way pkill -f would match them. It backs the fallback kill that
// sweeps up instances whose PID record was lost.
type PatternDetector struct {
	Pattern string
}

func (d PatternDetector) Alive() (bool, error) {
	pids, err := d.MatchingPIDs(context.Background())
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

func (d PatternDetector) Describe() string { return "pattern:" + d.Pattern }

// MatchingPIDs enumerates processes whose command line contains the pattern.
// The calling process and its parent are always excluded so a loose pattern
// cannot match the supervisor or the shell that launched it.
func (d PatternDetector) MatchingPIDs(ctx context.Context) ([]int, error) {
	if strings.TrimSpace(d.Pattern) == "" {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	parent := os.Getppid()
	var out []int
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == self || pid == parent {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// process may have exited mid-scan
			continue
		}
		if strings.Contains(cmdline, d.Pattern) {
			out = append(out, pid)
		}
	}
	return out, nil
}

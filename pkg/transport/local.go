package transport

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/clos-tools/fabcheck/pkg/util"
)

// LocalExecutor runs management commands as local processes, optionally
// inside a network namespace named after the node.
type LocalExecutor struct {
	node  string
	netns string
}

func (l *LocalExecutor) Node() string { return l.node }

func (l *LocalExecutor) Execute(ctx context.Context, req Request) (string, error) {
	cmdline := req.Render()
	if l.netns != "" {
		cmdline = fmt.Sprintf("ip netns exec %s %s", l.netns, cmdline)
	}
	util.WithNode(l.node).Debugf("sh -c %q", cmdline)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), &TransportError{
			Node:  l.node,
			Cause: fmt.Errorf("local exec: %w", err),
		}
	}
	return string(out), nil
}

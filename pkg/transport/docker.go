package transport

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/clos-tools/fabcheck/pkg/util"
)

// DockerExecutor runs management commands inside a managed container
// via `docker exec`, the way containerlab-style fabrics expose nodes.
type DockerExecutor struct {
	node      string
	container string
}

func (d *DockerExecutor) Node() string { return d.node }

func (d *DockerExecutor) Execute(ctx context.Context, req Request) (string, error) {
	args := dockerExecArgs(d.container, req)
	util.WithNode(d.node).Debugf("docker %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), &TransportError{
			Node:  d.node,
			Cause: fmt.Errorf("docker exec %s: %w", d.container, err),
		}
	}
	return string(out), nil
}

// dockerExecArgs builds the argv for running a request in a container.
func dockerExecArgs(container string, req Request) []string {
	return []string{"exec", container, "sh", "-c", req.Render()}
}

// Package deploy implements the container lifecycle verbs: clean, build,
// run and from-build. Each verb is independently invocable and composes by
// running them in sequence.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
)

// Target names the image and container a deployment operates on.
type Target struct {
	Image      string
	Container  string
	ContextDir string
	// Env is passed through to the container at run time.
	Env []string
}

// Verbs in the order an operator usually composes them.
var Verbs = []string{"clean", "build", "run", "from-build"}

type Deployer struct {
	docker string
	target Target
}

func New(target Target) (*Deployer, error) {
	docker, err := exec.LookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return NewWithDocker(docker, target)
}

// NewWithDocker takes an explicit docker binary path. This constructor
// exists for unit testing only.
func NewWithDocker(docker string, target Target) (*Deployer, error) {
	if target.Image == "" || target.Container == "" {
		return nil, fmt.Errorf("deploy target needs both image and container names")
	}
	if target.ContextDir == "" {
		target.ContextDir = "."
	}
	return &Deployer{docker: docker, target: target}, nil
}

// Do dispatches a single verb. Unknown verbs return an error listing the
// valid ones, which the CLI turns into usage output and a non-zero exit.
func (d *Deployer) Do(ctx context.Context, verb string) error {
	switch verb {
	case "clean":
		return d.Clean(ctx)
	case "build":
		return d.Build(ctx)
	case "run":
		return d.Run(ctx)
	case "from-build":
		return d.FromBuild(ctx)
	default:
		valid := append([]string(nil), Verbs...)
		sort.Strings(valid)
		return fmt.Errorf("unknown deploy verb %q (valid: %s)", verb, strings.Join(valid, ", "))
	}
}

// Clean removes the prior container instance. A container that does not
// exist is fine; the point is a clean slate, not an error report.
func (d *Deployer) Clean(ctx context.Context) error {
	out, err := d.exec(ctx, "rm", "-f", d.target.Container)
	if err != nil {
		// Older docker versions error on rm -f of an absent container.
		if strings.Contains(out, "No such container") {
			slog.InfoContext(ctx, "container already absent", "container", d.target.Container)
			return nil
		}
		return fmt.Errorf("removing container %s: %w: %s", d.target.Container, err, out)
	}
	slog.InfoContext(ctx, "container removed", "container", d.target.Container)
	return nil
}

// Build produces a fresh runnable image from the context directory.
func (d *Deployer) Build(ctx context.Context) error {
	out, err := d.exec(ctx, "build", "--pull", "-t", d.target.Image, d.target.ContextDir)
	if err != nil {
		return fmt.Errorf("building image %s: %w: %s", d.target.Image, err, out)
	}
	slog.InfoContext(ctx, "image built", "image", d.target.Image)
	return nil
}

// Run launches a detached container from the current image.
func (d *Deployer) Run(ctx context.Context) error {
	args := []string{"run", "-d", "--name", d.target.Container, "--restart", "unless-stopped"}
	for _, e := range d.target.Env {
		args = append(args, "-e", e)
	}
	args = append(args, d.target.Image)

	out, err := d.exec(ctx, args...)
	if err != nil {
		return fmt.Errorf("running container %s: %w: %s", d.target.Container, err, out)
	}
	slog.InfoContext(ctx, "container running", "container", d.target.Container)
	return nil
}

// FromBuild builds the image and then runs it.
func (d *Deployer) FromBuild(ctx context.Context) error {
	if err := d.Build(ctx); err != nil {
		return err
	}
	return d.Run(ctx)
}

func (d *Deployer) exec(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.docker, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return strings.TrimSpace(buf.String()), err
}

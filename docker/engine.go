// Package docker adapts the Docker Engine API to the lifecycle
// manager's Runtime contract. All engine errors are normalized into
// the tagged error kinds the manager understands; in particular a
// semantic "no such container" is kept distinct from transport or
// daemon failures.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"

	"github.com/eaglenode/vpsd/vps"
)

// ownerLabel tags every managed container with its owning caller so
// out-of-band tooling can attribute containers to users.
const ownerLabel = "eaglenode_owner"

// cpuQuotaPeriod is the Docker CFS accounting period in microseconds;
// one full core equals this many quota units.
const cpuQuotaPeriod = 100000

// execOutputBudget caps how much captured exec output is handed back
// for rendering; chat surfaces truncate around 2000 characters.
const execOutputBudget = 1900

const truncationMarker = "\n... (output truncated)"

// Engine implements vps.Runtime against a live Docker daemon.
type Engine struct {
	cli     *client.Client
	network string
}

// New connects to the Docker daemon from the environment and verifies
// it is reachable. An unreachable daemon is reported here, once; the
// manager then short-circuits every operation instead of retrying.
func New(ctx context.Context, network string) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, vps.Wrap(vps.KindRuntimeUnavailable, err, "creating Docker client")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, vps.Wrap(vps.KindRuntimeUnavailable, err, "Docker daemon unreachable")
	}

	return &Engine{cli: cli, network: network}, nil
}

// Close releases the client connection.
func (e *Engine) Close() error {
	return e.cli.Close()
}

// classify maps a Docker client error onto the manager's taxonomy.
func classify(err error, format string, args ...interface{}) error {
	if client.IsErrNotFound(err) {
		return vps.Wrap(vps.KindRuntimeObjectMissing, err, format, args...)
	}
	return vps.Wrap(vps.KindRuntimeOperationFailed, err, format, args...)
}

// Create pulls the image if needed, then instantiates and starts a
// container with interactive streams, the ownership label and the
// injected branding environment. The pull has no upper bound and is
// the dominant latency source for create.
func (e *Engine) Create(ctx context.Context, spec vps.CreateSpec) (vps.ContainerRef, error) {
	pull, err := e.cli.ImagePull(ctx, spec.Image, imagetypes.PullOptions{})
	if err != nil {
		return vps.ContainerRef{}, vps.Wrap(vps.KindRuntimeOperationFailed, err, "pulling image %s", spec.Image)
	}
	// The pull only completes once the progress stream is drained.
	_, _ = io.Copy(io.Discard, pull)
	_ = pull.Close()

	hostConfig := &containertypes.HostConfig{
		NetworkMode: containertypes.NetworkMode(e.network),
	}
	if spec.Limits.Memory != "" {
		memBytes, err := units.RAMInBytes(spec.Limits.Memory)
		if err != nil {
			return vps.ContainerRef{}, vps.Wrap(vps.KindRuntimeOperationFailed, err, "invalid memory limit %q", spec.Limits.Memory)
		}
		hostConfig.Resources.Memory = memBytes
	}
	if spec.Limits.CPUs > 0 {
		hostConfig.Resources.CPUQuota = CPUQuota(spec.Limits.CPUs)
	}

	created, err := e.cli.ContainerCreate(ctx, &containertypes.Config{
		Image:     spec.Image,
		Hostname:  spec.Name,
		Tty:       true,
		OpenStdin: true,
		Env:       envList(spec.Env),
		Labels:    map[string]string{ownerLabel: spec.OwnerID},
	}, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return vps.ContainerRef{}, vps.Wrap(vps.KindRuntimeOperationFailed, err, "creating container %s", spec.Name)
	}

	if err := e.cli.ContainerStart(ctx, created.ID, containertypes.StartOptions{}); err != nil {
		// Best effort: do not leave the half-created container behind.
		_ = e.cli.ContainerRemove(ctx, created.ID, containertypes.RemoveOptions{Force: true})
		return vps.ContainerRef{}, vps.Wrap(vps.KindRuntimeOperationFailed, err, "starting container %s", spec.Name)
	}

	return vps.ContainerRef{ID: created.ID, ShortID: shortID(created.ID)}, nil
}

// Start starts the container.
func (e *Engine) Start(ctx context.Context, ref vps.ContainerRef) error {
	if err := e.cli.ContainerStart(ctx, ref.ID, containertypes.StartOptions{}); err != nil {
		return classify(err, "starting container %s", ref.ShortID)
	}
	return nil
}

// Stop stops the container using the daemon's default grace period.
func (e *Engine) Stop(ctx context.Context, ref vps.ContainerRef) error {
	if err := e.cli.ContainerStop(ctx, ref.ID, containertypes.StopOptions{}); err != nil {
		return classify(err, "stopping container %s", ref.ShortID)
	}
	return nil
}

// Restart restarts the container.
func (e *Engine) Restart(ctx context.Context, ref vps.ContainerRef) error {
	if err := e.cli.ContainerRestart(ctx, ref.ID, containertypes.StopOptions{}); err != nil {
		return classify(err, "restarting container %s", ref.ShortID)
	}
	return nil
}

// Remove deletes the container. A container that is already gone is
// reported with the runtime-object-missing kind so the manager can
// treat it as success for cleanup purposes.
func (e *Engine) Remove(ctx context.Context, ref vps.ContainerRef, force bool) error {
	if err := e.cli.ContainerRemove(ctx, ref.ID, containertypes.RemoveOptions{Force: force}); err != nil {
		return classify(err, "removing container %s", ref.ShortID)
	}
	return nil
}

// Exec runs a command inside the running container via an interactive
// shell, capturing stdout and stderr separately. Output beyond the
// display budget is truncated with a visible marker.
func (e *Engine) Exec(ctx context.Context, ref vps.ContainerRef, command string) (vps.ExecResult, error) {
	execResp, err := e.cli.ContainerExecCreate(ctx, ref.ID, containertypes.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return vps.ExecResult{}, classify(err, "creating exec in container %s", ref.ShortID)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, containertypes.ExecAttachOptions{})
	if err != nil {
		return vps.ExecResult{}, classify(err, "attaching exec in container %s", ref.ShortID)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return vps.ExecResult{}, vps.Wrap(vps.KindRuntimeOperationFailed, err, "reading exec output from container %s", ref.ShortID)
	}

	out, outTrunc := Truncate(stdout.String(), execOutputBudget)
	errOut, errTrunc := Truncate(stderr.String(), execOutputBudget)
	return vps.ExecResult{
		Stdout:    out,
		Stderr:    errOut,
		Truncated: outTrunc || errTrunc,
	}, nil
}

// Inspect returns the container's live status snapshot.
func (e *Engine) Inspect(ctx context.Context, ref vps.ContainerRef) (vps.RuntimeStatus, error) {
	info, err := e.cli.ContainerInspect(ctx, ref.ID)
	if err != nil {
		return vps.RuntimeStatus{}, classify(err, "inspecting container %s", ref.ShortID)
	}

	status := vps.RuntimeStatus{}
	if info.State != nil {
		status.Status = info.State.Status
	}
	if info.Config != nil {
		status.Image = info.Config.Image
	}
	if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		status.CreatedAt = created
	}
	return status, nil
}

// CPUQuota translates a fractional core count into CFS quota units.
func CPUQuota(cpus float64) int64 {
	return int64(cpus * cpuQuotaPeriod)
}

// Truncate cuts s at the budget and appends the truncation marker,
// reporting whether anything was cut.
func Truncate(s string, budget int) (string, bool) {
	if len(s) <= budget {
		return s, false
	}
	return s[:budget] + truncationMarker, true
}

// envList renders an environment map in Docker's KEY=VALUE form.
func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for key, value := range env {
		list = append(list, fmt.Sprintf("%s=%s", key, value))
	}
	return list
}

// shortID mirrors the Docker CLI's 12-character container ID form.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

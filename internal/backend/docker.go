package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// ErrNoAddress indicates a container exposes no published host port.
var ErrNoAddress = fmt.Errorf("backend: container has no published port")

// Client talks to the local Docker daemon. Project containers are named
// with a fixed prefix followed by the project id.
type Client struct {
	inner          *client.Client
	prefix         string
	restartTimeout time.Duration
}

// NewClient creates a Docker-backed Client using environment defaults.
func NewClient(host, prefix string, restartTimeout time.Duration) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if restartTimeout <= 0 {
		restartTimeout = 30 * time.Second
	}
	return &Client{inner: inner, prefix: prefix, restartTimeout: restartTimeout}, nil
}

var (
	_ Prober    = (*Client)(nil)
	_ Restarter = (*Client)(nil)
)

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// IsReachable reports whether the project's container exists and is running.
// A missing container or a daemon error both count as unreachable.
func (c *Client) IsReachable(ctx context.Context, projectID string) bool {
	name := c.containerName(projectID)
	if name == "" {
		return false
	}
	inspect, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

// Restart restarts the project's container, waiting up to the configured
// timeout for the stop phase.
func (c *Client) Restart(ctx context.Context, projectID string) error {
	name := c.containerName(projectID)
	if name == "" {
		return fmt.Errorf("project id cannot be empty")
	}
	timeoutSecs := int(c.restartTimeout / time.Second)
	opts := container.StopOptions{Timeout: &timeoutSecs}
	if err := c.inner.ContainerRestart(ctx, name, opts); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %s not found: %w", name, err)
		}
		return fmt.Errorf("restart container %s: %w", name, err)
	}
	return nil
}

// Address returns the http URL for the container's first published host
// port, polling briefly since port bindings can lag a restart.
func (c *Client) Address(ctx context.Context, projectID string) (string, error) {
	name := c.containerName(projectID)
	if name == "" {
		return "", fmt.Errorf("project id cannot be empty")
	}
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err := c.inner.ContainerInspect(ctx, name)
		if err != nil {
			return "", fmt.Errorf("container inspect: %w", err)
		}
		if inspect.NetworkSettings != nil {
			if addr := firstHostAddress(inspect.NetworkSettings.Ports); addr != "" {
				return addr, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", ErrNoAddress
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func (c *Client) containerName(projectID string) string {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return c.prefix + projectID
}

func firstHostAddress(ports nat.PortMap) string {
	for _, bindings := range ports {
		for _, binding := range bindings {
			if strings.TrimSpace(binding.HostPort) == "" {
				continue
			}
			host := binding.HostIP
			if host == "" || host == "0.0.0.0" || host == "::" {
				host = "127.0.0.1"
			}
			return fmt.Sprintf("http://%s:%s", host, binding.HostPort)
		}
	}
	return ""
}

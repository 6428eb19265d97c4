package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	cdpPort      nat.Port = "3000/tcp"
	managedLabel          = "xss-validator"
)

// Container is a running browserless container serving exactly one check.
type Container struct {
	ID         string
	CheckID    string
	Port       string
	ConnectURL string
}

// DockerPool launches one browser container per check through the Docker Engine API.
type DockerPool struct {
	client *client.Client
	image  string
	logger *zap.Logger

	readyRetries  int
	readyInterval time.Duration
}

// NewDockerPool connects to the Docker daemon described by the environment (DOCKER_HOST etc).
func NewDockerPool(imageRef string, logger *zap.Logger) (*DockerPool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerPool{
		client:        cli,
		image:         imageRef,
		logger:        logger.Named("docker"),
		readyRetries:  40,
		readyInterval: 250 * time.Millisecond,
	}, nil
}

// Launch creates and starts a container for checkID and waits until its CDP endpoint answers.
// A container that never becomes ready is removed before the error is returned.
func (p *DockerPool) Launch(ctx context.Context, checkID string) (*Container, error) {
	containerConfig := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"check-id":   checkID,
			"managed-by": managedLabel,
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			cdpPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			cdpPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(checkID))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[cdpPort]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return nil, fmt.Errorf("container %s exposes no CDP port", shortID(resp.ID))
	}
	port := bindings[0].HostPort

	if err := p.waitForBrowserReady(ctx, port); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	p.logger.Debug("Browser container ready.",
		zap.String("check_id", checkID),
		zap.String("container", shortID(resp.ID)),
		zap.String("port", port))

	return &Container{
		ID:         resp.ID,
		CheckID:    checkID,
		Port:       port,
		ConnectURL: fmt.Sprintf("ws://127.0.0.1:%s", port),
	}, nil
}

// Stop stops and removes a container.
func (p *DockerPool) Stop(ctx context.Context, containerID string) error {
	timeout := 5
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// EnsureImage pulls the browser image unless it is already present.
func (p *DockerPool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	p.logger.Info("Pulling browser image.", zap.String("image", p.image))
	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client.
func (p *DockerPool) Close() error {
	return p.client.Close()
}

func (p *DockerPool) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("Failed to remove browser container.", zap.String("container", shortID(containerID)), zap.Error(err))
	}
}

// waitForBrowserReady polls /json/version and then opens the CDP websocket once,
// so chromedp never races a container that answers HTTP but refuses upgrades.
func (p *DockerPool) waitForBrowserReady(ctx context.Context, port string) error {
	versionURL := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	wsURL := fmt.Sprintf("ws://127.0.0.1:%s", port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	var lastErr error
	for i := 0; i < p.readyRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.readyInterval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d from %s", resp.StatusCode, versionURL)
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}

	return fmt.Errorf("browser did not become ready after %d retries: %w", p.readyRetries, lastErr)
}

func containerName(checkID string) string {
	return "xss-check-" + shortID(checkID)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

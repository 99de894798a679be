package commands

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/docker/docker/client"

	"github.com/opencode-ai/agentcore/internal/adapter"
	"github.com/opencode-ai/agentcore/internal/adapter/container"
	"github.com/opencode-ai/agentcore/internal/adapter/local"
	"github.com/opencode-ai/agentcore/internal/adapter/remote"
	"github.com/opencode-ai/agentcore/pkg/core"
)

// dockerFactory is the agentsvc.AdapterFactory for this process,
// lazily dialing a Docker client only once a session actually requests
// the container backend. The backend is selected per session by
// core.AdapterKind.
type dockerFactory struct {
	mu  sync.Mutex
	cli *client.Client
}

// Build constructs the Execution Adapter for a session's configured
// backend. sandboxID doubles as the container id for AdapterContainer
// and the Daytona sandbox id for AdapterRemote.
func (f *dockerFactory) Build(ctx context.Context, kind core.AdapterKind, sandboxID, workDir string) (adapter.Adapter, error) {
	switch kind {
	case core.AdapterContainer:
		cli, err := f.dockerClient()
		if err != nil {
			return nil, err
		}
		if sandboxID == "" {
			return nil, fmt.Errorf("container adapter requires a container id")
		}
		return container.New(cli, sandboxID, workDir), nil
	case core.AdapterRemote:
		return remote.New(remote.Config{
			APIKey:         os.Getenv("DAYTONA_API_KEY"),
			OrganizationID: os.Getenv("DAYTONA_ORGANIZATION_ID"),
			APIURL:         os.Getenv("DAYTONA_API_URL"),
			SandboxID:      sandboxID,
			WorkDir:        workDir,
		}), nil
	case core.AdapterLocal, "":
		return local.New(workDir), nil
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", kind)
	}
}

func (f *dockerFactory) dockerClient() (*client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cli != nil {
		return f.cli, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	f.cli = cli
	return cli, nil
}

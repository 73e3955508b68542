//go:build integration

package source

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestFetcherAcquireAgainstGitDaemon spins up a disposable git-daemon
// container serving a bare repository and exercises the shallow-clone
// path against it over the git:// protocol, the way a real remote
// fetch would behave. Run with: go test -tags=integration ./pkg/source/...
func TestFetcherAcquireAgainstGitDaemon(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "cirrusci/git-daemon:latest",
		ExposedPorts: []string{"9418/tcp"},
		WaitingFor:   wait.ForListeningPort("9418/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9418")
	require.NoError(t, err)

	repoURL := fmt.Sprintf("git://%s:%s/repo.git", host, port.Port())

	f := NewFetcher(t.TempDir())
	snap, err := f.Acquire(ctx, repoURL)
	require.NoError(t, err)
	defer snap.Release()

	require.NotEmpty(t, snap.CommitSHA)
}

package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/db"
)

const postgresImage = "postgres:16-alpine"

// startPostgresContainer runs a throwaway Postgres through the docker CLI,
// letting docker pick the host port, and returns its connection string and
// a function that removes the container.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	name := "telecare-it-" + uuid.New().String()[:8]

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--name", name,
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=telecare",
		"-e", "POSTGRES_PASSWORD=telecare",
		"-e", "POSTGRES_DB=telecare",
		postgresImage,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w: %s", postgresImage, err, strings.TrimSpace(string(out)))
	}
	remove := func() { _ = exec.Command("docker", "rm", "-f", name).Run() }

	hostPort, err := mappedPort(ctx, name)
	if err != nil {
		remove()
		return "", nil, err
	}

	url := fmt.Sprintf("postgres://telecare:telecare@%s/telecare?sslmode=disable", hostPort)
	if err := awaitReady(ctx, url, 30*time.Second); err != nil {
		remove()
		return "", nil, err
	}
	return url, remove, nil
}

// mappedPort reads the host address docker bound to the container's 5432.
func mappedPort(ctx context.Context, name string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", name, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port %s: %w", name, err)
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if line == "" {
		return "", fmt.Errorf("docker port %s: no mapping", name)
	}
	return line, nil
}

// awaitReady polls until the server answers a ping. Postgres restarts once
// during first-time init, so a single successful ping after a short settle
// is not trusted; two in a row are required.
func awaitReady(ctx context.Context, url string, within time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()

	ok := 0
	for {
		if pingOnce(ctx, url) == nil {
			ok++
			if ok == 2 {
				return nil
			}
		} else {
			ok = 0
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s", within)
		case <-time.After(300 * time.Millisecond):
		}
	}
}

func pingOnce(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	pool, err := db.NewPool(ctx, url, 1, 0)
	if err != nil {
		return err
	}
	defer pool.Close()
	return pool.Ping(ctx)
}

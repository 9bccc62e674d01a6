package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	postgresImage  = "postgres:16-alpine"
	postgresReady  = 30 * time.Second
	postgresDSNFmt = "postgres://tbrisk:tbrisk@%s/tbrisktest?sslmode=disable"
)

func dockerAvailable() bool {
	_, err := exec.LookPath("docker")
	return err == nil
}

// startPostgresContainer starts a disposable Postgres on a port Docker picks
// and returns its DSN and a function that removes the container.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=tbrisk",
		"-e", "POSTGRES_PASSWORD=tbrisk",
		"-e", "POSTGRES_DB=tbrisktest",
		postgresImage,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run: %w: %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	stop := func() { _ = exec.Command("docker", "rm", "-f", id).Run() }

	out, err = exec.CommandContext(ctx, "docker", "port", id, "5432/tcp").Output()
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("docker port: %w", err)
	}
	// One line per bound address; the first is enough.
	addr := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	dsn := fmt.Sprintf(postgresDSNFmt, addr)

	if err := waitForPostgres(ctx, dsn); err != nil {
		stop()
		return "", nil, err
	}
	return dsn, stop, nil
}

func waitForPostgres(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, postgresReady)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			err = conn.Ping(ctx)
			_ = conn.Close(context.Background())
			if err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", postgresReady, err)
		case <-ticker.C:
		}
	}
}

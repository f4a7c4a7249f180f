//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/ratelimiter"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, err := c.Host(ctx)
	require.NoError(t, err)
	p, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	return host + ":" + p.Port()
}

func Test_JobRepo_Postgres(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "app"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(90 * time.Second),
	}, "5432")
	ctx := context.Background()
	dsn := "postgres://postgres:postgres@" + addr + "/app?sslmode=disable"

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		p, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return false
		}
		pool = p
		return true
	}, 30*time.Second, time.Second)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	repo := postgres.NewJobRepo(pool)

	id, err := repo.Create(ctx, domain.GenerationJob{Kind: domain.JobKindReplicate, Status: domain.JobQueued, Payload: json.RawMessage(`{"model":"veo-3"}`)})
	require.NoError(t, err)
	require.NoError(t, repo.SetRemoteID(ctx, id, "r-1"))
	require.NoError(t, repo.UpdateStatus(ctx, id, domain.JobCompleted, json.RawMessage(`["https://x/out.mp4"]`), nil))

	job, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.JobCompleted, job.Status)
	require.Equal(t, "r-1", job.RemoteID)
	require.JSONEq(t, `["https://x/out.mp4"]`, string(job.Output))

	n, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func Test_GenerationQuota_Redis(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}, "6379")
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.Eventually(t, func() bool { return rdb.Ping(ctx).Err() == nil }, 30*time.Second, time.Second)

	l := ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.NewBucketConfigFromPerMinute(2), "it-quota")
	for i := 0; i < 2; i++ {
		dec, err := l.Allow(ctx, "ip:198.51.100.1", 1)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
	}
	dec, err := l.Allow(ctx, "ip:198.51.100.1", 1)
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	require.Greater(t, dec.RetryAfter, time.Duration(0))
}

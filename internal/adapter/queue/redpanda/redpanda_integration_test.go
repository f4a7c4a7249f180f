//go:build integration

package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

const redpandaPort = 19192

func startRedpanda(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.3.7",
		ExposedPorts: []string{"9092/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--smp", "1",
			"--memory", "256M",
			"--reserve-memory", "0M",
			"--check=false",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", fmt.Sprintf("PLAINTEXT://127.0.0.1:%d", redpandaPort),
			"--mode", "dev-container",
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(60 * time.Second),
		HostConfigModifier: func(hc *containerTypes.HostConfig) {
			if hc.PortBindings == nil {
				hc.PortBindings = nat.PortMap{}
			}
			hc.PortBindings[nat.Port("9092/tcp")] = []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", redpandaPort)},
			}
		},
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("redpanda container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	return fmt.Sprintf("localhost:%d", redpandaPort)
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	broker := startRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	topic := fmt.Sprintf("generation-jobs-it-%d", time.Now().UnixNano())
	prod, err := NewProducer(ctx, []string{broker}, topic)
	require.NoError(t, err)
	defer func() { _ = prod.Close() }()
	require.NoError(t, prod.Ping(ctx))

	got := make(chan domain.GenerationTask, 1)
	cons, err := NewConsumer(ctx, ConsumerOptions{Brokers: []string{broker}, Topic: topic, GroupID: "it-" + topic},
		HandlerFunc(func(_ context.Context, task domain.GenerationTask) error {
			got <- task
			return nil
		}))
	require.NoError(t, err)
	defer func() { _ = cons.Close() }()
	go func() { _ = cons.Start(ctx) }()

	want := domain.GenerationTask{JobID: "it-1", Kind: domain.JobKindBFL, Payload: json.RawMessage(`{"prompt":"fox"}`)}
	require.NoError(t, prod.EnqueueGeneration(ctx, want))

	select {
	case task := <-got:
		require.Equal(t, want.JobID, task.JobID)
		require.Equal(t, want.Kind, task.Kind)
		require.JSONEq(t, string(want.Payload), string(task.Payload))
	case <-ctx.Done():
		t.Fatal("task not consumed in time")
	}
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

const jobID = "5b1c3f0e-7d4a-4d8e-9f61-2a0c6b7e9d10"

func fixedRepo(p *poolStub) *JobRepo {
	r := NewJobRepo(p)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r
}

func jobRow(status domain.JobStatus, output string) pgx.Row {
	return rowStub{scan: func(dest ...any) error {
		*dest[0].(*string) = jobID
		*dest[1].(*string) = string(domain.JobKindBFL)
		*dest[2].(*string) = string(status)
		*dest[3].(*[]byte) = []byte(`{"prompt":"fox"}`)
		if output != "" {
			*dest[4].(*[]byte) = []byte(output)
		}
		*dest[5].(*string) = ""
		*dest[6].(*string) = "remote-1"
		*dest[7].(*time.Time) = time.Unix(10, 0)
		*dest[8].(*time.Time) = time.Unix(20, 0)
		return nil
	}}
}

func TestJobRepo_Create(t *testing.T) {
	p := &poolStub{}
	r := fixedRepo(p)
	id, err := r.Create(context.Background(), domain.GenerationJob{Kind: domain.JobKindReplicate, Payload: json.RawMessage(`{"model":"x"}`)})
	require.NoError(t, err)
	assert.Len(t, id, 36)
	require.Len(t, p.execs, 1)
	args := p.execs[0].args
	assert.Equal(t, id, args[0])
	assert.Equal(t, "replicate", args[1])
	assert.Equal(t, "queued", args[2])
	assert.Equal(t, `{"model":"x"}`, args[3])
}

func TestJobRepo_Create_Errors(t *testing.T) {
	r := fixedRepo(&poolStub{})
	_, err := r.Create(context.Background(), domain.GenerationJob{Kind: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	boom := errors.New("boom")
	r = fixedRepo(&poolStub{execFn: func(string, ...any) (pgconn.CommandTag, error) { return pgconn.CommandTag{}, boom }})
	_, err = r.Create(context.Background(), domain.GenerationJob{Kind: domain.JobKindBFL})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "op=job.create")
}

func TestJobRepo_Get(t *testing.T) {
	p := &poolStub{queryRow: func(string, ...any) pgx.Row { return jobRow(domain.JobCompleted, `{"imageUrl":"data:x"}`) }}
	j, err := fixedRepo(p).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindBFL, j.Kind)
	assert.Equal(t, domain.JobCompleted, j.Status)
	assert.JSONEq(t, `{"imageUrl":"data:x"}`, string(j.Output))
	assert.Equal(t, "remote-1", j.RemoteID)
}

func TestJobRepo_Get_NotFound(t *testing.T) {
	r := fixedRepo(&poolStub{})
	_, err := r.Get(context.Background(), jobID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_UpdateStatus(t *testing.T) {
	p := &poolStub{}
	err := fixedRepo(p).UpdateStatus(context.Background(), jobID, domain.JobCompleted, json.RawMessage(`{"output":"u"}`), nil)
	require.NoError(t, err)
	args := p.execs[0].args
	assert.Equal(t, "completed", args[1])
	assert.Equal(t, `{"output":"u"}`, args[2])
	assert.Equal(t, []string{"processing"}, args[5])
	assert.True(t, strings.Contains(p.execs[0].sql, "status = ANY($6)"))
}

func TestJobRepo_UpdateStatus_Conflict(t *testing.T) {
	p := &poolStub{
		execFn:   func(string, ...any) (pgconn.CommandTag, error) { return pgconn.NewCommandTag("UPDATE 0"), nil },
		queryRow: func(string, ...any) pgx.Row { return jobRow(domain.JobCompleted, "") },
	}
	msg := "late"
	err := fixedRepo(p).UpdateStatus(context.Background(), jobID, domain.JobFailed, nil, &msg)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Nil(t, p.execs[0].args[2])
	assert.Equal(t, "late", p.execs[0].args[3])

	err = fixedRepo(&poolStub{}).UpdateStatus(context.Background(), jobID, domain.JobQueued, nil, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestJobRepo_UpdateStatus_Missing(t *testing.T) {
	p := &poolStub{execFn: func(string, ...any) (pgconn.CommandTag, error) { return pgconn.NewCommandTag("UPDATE 0"), nil }}
	err := fixedRepo(p).UpdateStatus(context.Background(), jobID, domain.JobProcessing, nil, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_SweepsAndRemoteID(t *testing.T) {
	p := &poolStub{execFn: func(sql string, _ ...any) (pgconn.CommandTag, error) {
		if strings.HasPrefix(sql, "DELETE") {
			return pgconn.NewCommandTag("DELETE 4"), nil
		}
		return pgconn.NewCommandTag("UPDATE 2"), nil
	}}
	r := fixedRepo(p)
	ctx := context.Background()

	n, err := r.FailStuck(ctx, time.Unix(100, 0), "stuck")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "failed", p.execs[0].args[0])
	assert.Equal(t, "processing", p.execs[0].args[3])

	n, err = r.DeleteFinishedBefore(ctx, time.Unix(100, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	require.NoError(t, r.SetRemoteID(ctx, jobID, "pred-1"))
	assert.Equal(t, "pred-1", p.execs[2].args[1])
}

func TestEnsureSchema(t *testing.T) {
	p := &poolStub{}
	require.NoError(t, EnsureSchema(context.Background(), p))
	assert.Contains(t, p.execs[0].sql, "CREATE TABLE IF NOT EXISTS generation_jobs")
}

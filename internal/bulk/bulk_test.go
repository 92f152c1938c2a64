package bulk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modfin/bulkbrev"
	"github.com/modfin/bulkbrev/internal/dispatch"
	"github.com/modfin/bulkbrev/internal/registry"
	"github.com/modfin/bulkbrev/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifyingSender struct {
	transport.SenderFunc
	err error
}

func (v verifyingSender) Verify(ctx context.Context) error {
	return v.err
}

func newOrchestrator(t *testing.T, cfg dispatch.Config, sender transport.Sender) (*Orchestrator, *registry.Registry) {
	reg := registry.New(registry.Config{}, nil, nil)
	d, err := dispatch.New(cfg, sender, nil, nil)
	require.NoError(t, err)
	o := New(Config{Workers: 4, QueueSize: 16}, reg, d, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return o, reg
}

func await(t *testing.T, o *Orchestrator, id string) bulkbrev.Job {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, ok := o.Await(ctx, id)
	require.True(t, ok)
	require.True(t, job.Status.Terminal(), "job did not finish in time: %+v", job)
	return job
}

var message = transport.Message{From: "noreply@example.com", Subject: "Hello", HTML: "<p>Hi</p>"}

func TestSubmit(t *testing.T) {
	failB := transport.SenderFunc(func(ctx context.Context, msg transport.Message) (string, error) {
		if msg.To == "b@x.com" {
			return "", errors.New("550 mailbox unavailable")
		}
		return "<id@example.com>", nil
	})

	type testCase struct {
		name       string
		sender     transport.Sender
		recipients []string
		status     bulkbrev.JobStatus
		successful int
		failed     int
		wantError  bool
	}

	for _, tc := range []testCase{
		{
			name:   "no recipients",
			sender: failB, recipients: nil,
			status: bulkbrev.JobCompleted,
		},
		{
			name:   "partial failure completes",
			sender: failB, recipients: []string{"a@x.com", "b@x.com"},
			status: bulkbrev.JobCompleted, successful: 1, failed: 1,
		},
		{
			name:   "every recipient failing still completes",
			sender: failB, recipients: []string{"b@x.com", "b@x.com"},
			status: bulkbrev.JobCompleted, failed: 2,
		},
		{
			name:       "transport outage errors",
			sender:     verifyingSender{SenderFunc: failB, err: errors.New("dial tcp: connection refused")},
			recipients: []string{"a@x.com", "b@x.com"},
			status:     bulkbrev.JobError, wantError: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o, _ := newOrchestrator(t, dispatch.Config{BatchSize: 10, Verify: true}, tc.sender)

			id := o.Submit(Request{Message: message, Recipients: tc.recipients})
			job := await(t, o, id.String())

			assert.Equal(t, tc.status, job.Status)
			assert.Equal(t, len(tc.recipients), job.Total)
			assert.Equal(t, tc.successful, job.Successful)
			assert.Equal(t, tc.failed, job.Failed)
			assert.Equal(t, job.Successful+job.Failed, job.Processed)
			assert.Len(t, job.Results, job.Processed)
			assert.NotNil(t, job.CompletedTime)
			assert.Equal(t, tc.wantError, job.Error != "", job.Error)
			if tc.status == bulkbrev.JobCompleted {
				assert.Equal(t, job.Total, job.Processed)
			}
		})
	}
}

func TestSubmit_TerminalIsIdempotent(t *testing.T) {
	o, _ := newOrchestrator(t, dispatch.Config{BatchSize: 10}, transport.SenderFunc(func(ctx context.Context, msg transport.Message) (string, error) {
		return "id", nil
	}))

	id := o.Submit(Request{Message: message, Recipients: []string{"a@x.com"}}).String()
	first := await(t, o, id)
	time.Sleep(20 * time.Millisecond)
	second, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestSubmit_Progress(t *testing.T) {
	release := make(chan struct{})
	sender := transport.SenderFunc(func(ctx context.Context, msg transport.Message) (string, error) {
		if msg.To == "b@x.com" {
			<-release
		}
		return "id", nil
	})
	o, _ := newOrchestrator(t, dispatch.Config{BatchSize: 1}, sender)

	id := o.Submit(Request{Message: message, Recipients: []string{"a@x.com", "b@x.com"}}).String()

	require.Eventually(t, func() bool {
		job, _ := o.Status(id)
		return job.Processed == 1
	}, 5*time.Second, 5*time.Millisecond)

	job, _ := o.Status(id)
	assert.Equal(t, bulkbrev.JobProcessing, job.Status)
	assert.Nil(t, job.CompletedTime)
	require.Len(t, job.Results, 1)
	assert.Equal(t, "a@x.com", job.Results[0].Email)
	assert.Equal(t, id+"-0", job.Results[0].TID)

	close(release)
	final := await(t, o, id)
	assert.Equal(t, bulkbrev.JobCompleted, final.Status)
	assert.Equal(t, 2, final.Successful)
}

func TestSubmit_Rejected(t *testing.T) {
	o, _ := newOrchestrator(t, dispatch.Config{BatchSize: 10}, transport.SenderFunc(func(ctx context.Context, msg transport.Message) (string, error) {
		return "id", nil
	}))
	require.NoError(t, o.Stop(context.Background()))

	id := o.Submit(Request{Message: message, Recipients: []string{"a@x.com"}})

	job, ok := o.Status(id.String())
	require.True(t, ok)
	assert.Equal(t, bulkbrev.JobError, job.Status)
	assert.Equal(t, ErrRejected.Error(), job.Error)
	assert.NotNil(t, job.CompletedTime)
}

func TestStop_CancelsRunningJobs(t *testing.T) {
	started := make(chan struct{}, 2)
	sender := transport.SenderFunc(func(ctx context.Context, msg transport.Message) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	})
	o, _ := newOrchestrator(t, dispatch.Config{BatchSize: 1}, sender)

	id := o.Submit(Request{Message: message, Recipients: []string{"a@x.com", "b@x.com"}}).String()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("ERROR: job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := o.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	job, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, bulkbrev.JobError, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Equal(t, 1, job.Failed, "the outcome resolved before the cancel is kept")
}

func TestStop_QueuedJobsFinish(t *testing.T) {
	type testCase struct {
		name    string
		timeout time.Duration
		status  bulkbrev.JobStatus
	}

	for _, tc := range []testCase{
		{name: "drained before the deadline", timeout: 5 * time.Second, status: bulkbrev.JobCompleted},
		{name: "cancelled at the deadline", timeout: 50 * time.Millisecond, status: bulkbrev.JobError},
	} {
		t.Run(tc.name, func(tc testCase) func(t *testing.T) {
			return func(t *testing.T) {
				sender := transport.SenderFunc(func(ctx context.Context, msg transport.Message) (string, error) {
					select {
					case <-time.After(100 * time.Millisecond):
						return "<id@example.com>", nil
					case <-ctx.Done():
						return "", ctx.Err()
					}
				})
				reg := registry.New(registry.Config{}, nil, nil)
				d, err := dispatch.New(dispatch.Config{BatchSize: 1}, sender, nil, nil)
				require.NoError(t, err)
				o := New(Config{Workers: 1, QueueSize: 4}, reg, d, nil, nil)

				var ids []string
				for i := 0; i < 3; i++ {
					ids = append(ids, o.Submit(Request{Message: message, Recipients: []string{"a@x.com"}}).String())
				}

				ctx, cancel := context.WithTimeout(context.Background(), tc.timeout)
				defer cancel()
				_ = o.Stop(ctx)

				for _, id := range ids[1:] {
					job, ok := o.Status(id)
					require.True(t, ok)
					if job.Status != tc.status {
						t.Errorf("ERROR: got status %s for queued job %s, want %s", job.Status, id, tc.status)
					}
					assert.NotNil(t, job.CompletedTime)
				}
			}
		}(tc))
	}
}

func TestAwait_Unknown(t *testing.T) {
	o, _ := newOrchestrator(t, dispatch.Config{BatchSize: 1}, transport.SenderFunc(func(ctx context.Context, msg transport.Message) (string, error) {
		return "id", nil
	}))
	_, ok := o.Await(context.Background(), "unknown")
	assert.False(t, ok)
}

package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/modfin/bulkbrev"
	"github.com/modfin/bulkbrev/internal/dispatch"
	"github.com/modfin/bulkbrev/internal/metrics"
	"github.com/modfin/bulkbrev/internal/registry"
	"github.com/modfin/bulkbrev/internal/signals"
	"github.com/modfin/bulkbrev/internal/transport"
	"github.com/modfin/bulkbrev/pkg/zid"
	"github.com/modfin/bulkbrev/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var ErrRejected = errors.New("job was rejected, the service is busy or shutting down")

type Config struct {
	Workers   int // jobs dispatched at the same time
	QueueSize int // jobs waiting for a worker before new ones are rejected
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request, onProgress dispatch.ProgressFunc) (dispatch.Tally, error)
}

type Request struct {
	Message    transport.Message
	Recipients []string
}

type Orchestrator struct {
	cfg        Config
	registry   *registry.Registry
	dispatcher Dispatcher
	pool       *pond.WorkerPool
	log        *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ostop  sync.Once

	jobs *prometheus.CounterVec
}

func New(cfg Config, reg *registry.Registry, d Dispatcher, lc *tools.Logger, m *metrics.Metrics) *Orchestrator {
	if lc == nil {
		lc = tools.LoggerCloner(nil)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	o := &Orchestrator{
		cfg:        cfg,
		registry:   reg,
		dispatcher: d,
		log:        lc.New("bulk"),
		jobs: m.Register().NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_jobs_total",
			Help: "Number of finished bulk jobs by status.",
		}, []string{"status"}),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.pool = pond.New(cfg.Workers, cfg.QueueSize, pond.PanicHandler(func(p interface{}) {
		o.log.Errorf("job worker panicked: %v", p)
	}))
	o.log.Infof("dispatching up to %d jobs at once, %d queued", cfg.Workers, cfg.QueueSize)
	return o
}

// Submit registers the job and hands it to a worker, the job id is returned without waiting for any send
func (o *Orchestrator) Submit(req Request) zid.ID {
	id := o.registry.Create(len(req.Recipients))
	logger := o.log.WithField("job", id.String())

	if !o.pool.TrySubmit(o.run(id, req)) {
		logger.Warn("job rejected by worker pool")
		o.finish(id.String(), registry.Errored(ErrRejected, time.Now()), bulkbrev.JobError)
		return id
	}
	logger.WithField("recipients", len(req.Recipients)).Info("job accepted")
	return id
}

func (o *Orchestrator) run(id zid.ID, req Request) func() {
	return func() {
		key := id.String()
		defer func() {
			if r := recover(); r != nil {
				o.finish(key, registry.Errored(fmt.Errorf("job panicked: %v", r), time.Now()), bulkbrev.JobError)
			}
		}()

		tally, err := o.dispatcher.Dispatch(o.ctx, dispatch.Request{
			JobID:      id,
			Message:    req.Message,
			Recipients: req.Recipients,
		}, func(s dispatch.Snapshot) {
			err := o.registry.Merge(key, registry.Progress(s.Processed, s.Successful, s.Failed, s.Results))
			if err != nil {
				o.log.WithError(err).WithField("job", key).Warn("could not record progress")
			}
		})
		if err != nil {
			o.finish(key, registry.Errored(err, time.Now()), bulkbrev.JobError)
			return
		}
		o.finish(key, registry.Completed(len(tally.Successful), len(tally.Failed), tally.Results, time.Now()), bulkbrev.JobCompleted)
	}
}

func (o *Orchestrator) finish(id string, p registry.Patch, status bulkbrev.JobStatus) {
	err := o.registry.Merge(id, p)
	if err != nil {
		o.log.WithError(err).WithField("job", id).Error("could not finish job")
		return
	}
	o.jobs.WithLabelValues(status.String()).Inc()
	signals.Broadcast(signals.JobFinished)
}

func (o *Orchestrator) Status(id string) (bulkbrev.Job, bool) {
	return o.registry.Get(id)
}

// Await blocks until the job is finished or ctx is done and returns the job as it is by then
func (o *Orchestrator) Await(ctx context.Context, id string) (bulkbrev.Job, bool) {
	sig, cancel := signals.Listen(signals.JobFinished)
	defer cancel()

	for {
		job, ok := o.registry.Get(id)
		if !ok || job.Status.Terminal() {
			return job, ok
		}
		select {
		case <-sig:
		case <-ctx.Done():
			return job, ok
		}
	}
}

// Stop stops accepting jobs and waits for the accepted ones, queued jobs included. When ctx expires
// first, dispatches are cancelled and the remaining jobs end in status error.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var err error
	o.ostop.Do(func() {
		done := make(chan struct{})
		go func() {
			o.pool.StopAndWait()
			close(done)
		}()
		select {
		case <-done:
			o.log.Info("all jobs are done")
		case <-ctx.Done():
			err = ctx.Err()
			o.log.Warn("cancelling unfinished jobs")
			o.cancel()
			<-done
		}
		o.cancel()
	})
	return err
}

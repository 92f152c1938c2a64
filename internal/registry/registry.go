package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/modfin/bulkbrev"
	"github.com/modfin/bulkbrev/internal/metrics"
	"github.com/modfin/bulkbrev/pkg/zid"
	"github.com/modfin/bulkbrev/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("job not found")
var ErrTerminal = errors.New("job is already finished")
var ErrInvalidPatch = errors.New("invalid job patch")

type Config struct {
	Retention time.Duration   // how long finished jobs are kept, 0 keeps them for the lifetime of the process
	OnMissing func(id string) // called when a patch is merged into a job that does not exist
}

// Registry is the only owner of job state. Every change goes through Merge, which is atomic per job.
type Registry struct {
	cfg   Config
	cache *ttlcache.Cache[string, bulkbrev.Job]
	locks *tools.KeyedMutex
	log   *logrus.Logger

	dropped prometheus.Counter
	stopped chan struct{}
	ostop   sync.Once
}

func New(cfg Config, lc *tools.Logger, m *metrics.Metrics) *Registry {
	if lc == nil {
		lc = tools.LoggerCloner(nil)
	}
	r := &Registry{
		cfg: cfg,
		cache: ttlcache.New[string, bulkbrev.Job](
			ttlcache.WithDisableTouchOnHit[string, bulkbrev.Job](),
		),
		locks: tools.NewKeyedMutex(),
		log:   lc.New("registry"),
		dropped: m.Register().NewCounter(prometheus.CounterOpts{
			Name: "bulk_registry_dropped_updates_total",
			Help: "Number of job updates dropped since the job did not exist.",
		}),
	}
	r.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, bulkbrev.Job]) {
		if reason == ttlcache.EvictionReasonExpired {
			r.log.WithField("job", item.Key()).Debug("finished job expired")
		}
	})
	return r
}

// Start runs the expiry of finished jobs until Stop is called
func (r *Registry) Start() {
	r.stopped = make(chan struct{})
	go func() {
		defer close(r.stopped)
		r.cache.Start()
	}()
}

func (r *Registry) Stop(ctx context.Context) error {
	if r.stopped == nil {
		return nil
	}
	r.ostop.Do(func() {
		go r.cache.Stop()
	})
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create registers a new job in status processing and returns its id
func (r *Registry) Create(total int) zid.ID {
	if total < 0 {
		total = 0
	}
	id := zid.New()
	job := bulkbrev.Job{
		Id:        id.String(),
		Status:    bulkbrev.JobProcessing,
		Total:     total,
		Results:   []bulkbrev.Outcome{},
		StartTime: time.Now(),
	}
	r.cache.Set(job.Id, job, ttlcache.NoTTL)
	r.log.WithField("job", job.Id).WithField("total", total).Debug("created")
	return id
}

// Get returns a copy of the job, changing it has no effect on the registry
func (r *Registry) Get(id string) (bulkbrev.Job, bool) {
	item := r.cache.Get(id)
	if item == nil {
		return bulkbrev.Job{}, false
	}
	return item.Value().Clone(), true
}

// Merge applies the patch to the job as one atomic read-modify-write.
// Patches to unknown jobs are dropped with ErrNotFound, patches to finished jobs with ErrTerminal.
func (r *Registry) Merge(id string, p Patch) (err error) {
	r.locks.Do(id, func() {
		item := r.cache.Get(id)
		if item == nil {
			r.dropped.Inc()
			r.log.WithField("job", id).Warn("dropping update of unknown job")
			if r.cfg.OnMissing != nil {
				r.cfg.OnMissing(id)
			}
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
			return
		}

		cur := item.Value()
		if cur.Status.Terminal() {
			err = fmt.Errorf("%w: %s is %s", ErrTerminal, id, cur.Status)
			return
		}

		next, perr := p.apply(cur)
		if perr != nil {
			err = fmt.Errorf("%w: %s: %v", ErrInvalidPatch, id, perr)
			return
		}

		ttl := ttlcache.NoTTL
		if next.Status.Terminal() && r.cfg.Retention > 0 {
			ttl = r.cfg.Retention
		}
		r.cache.Set(id, next, ttl)

		if next.Status.Terminal() {
			r.log.WithField("job", id).WithField("status", next.Status).Infof("finished, %d sent, %d failed of %d", next.Successful, next.Failed, next.Total)
		}
	})
	return err
}

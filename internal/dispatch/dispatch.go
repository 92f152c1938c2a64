package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modfin/bulkbrev"
	"github.com/modfin/bulkbrev/internal/metrics"
	"github.com/modfin/bulkbrev/internal/transport"
	"github.com/modfin/bulkbrev/pkg/zid"
	"github.com/modfin/bulkbrev/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("invalid dispatch config")

const DefaultBatchSize = 10
const DefaultBatchDelay = time.Second

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	Verify     bool // preflight the transport before the first window, if it is a transport.Verifier
}

// Request is one message fanned out to many recipients. Message.To is ignored.
type Request struct {
	JobID      zid.ID
	Message    transport.Message
	Recipients []string
}

// Snapshot is the running tally handed to the progress observer after every attempt
type Snapshot struct {
	Processed  int
	Successful int
	Failed     int
	Results    []bulkbrev.Outcome
}

type ProgressFunc func(Snapshot)

// Tally is the final outcome of a dispatch, each list in completion order
type Tally struct {
	Total      int
	Successful []bulkbrev.Outcome
	Failed     []bulkbrev.Outcome
	Results    []bulkbrev.Outcome // successful and failed interleaved
}

type Dispatcher struct {
	cfg    Config
	sender transport.Sender
	log    *logrus.Logger

	sleep func(ctx context.Context, d time.Duration) error

	windowDuration prometheus.Histogram
	recipients     *prometheus.CounterVec
}

func New(cfg Config, sender transport.Sender, lc *tools.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalidConfig, cfg.BatchSize)
	}
	if cfg.BatchDelay < 0 {
		return nil, fmt.Errorf("%w: batch delay must not be negative, got %s", ErrInvalidConfig, cfg.BatchDelay)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: a transport is required", ErrInvalidConfig)
	}
	if lc == nil {
		lc = tools.LoggerCloner(nil)
	}
	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		log:    lc.New("dispatch"),
		sleep:  sleep,
		windowDuration: m.Register().NewHistogram(prometheus.HistogramOpts{
			Name:    "bulk_dispatch_window_seconds",
			Help:    "Time until every send of a window has resolved.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		recipients: m.Register().NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_recipients_total",
			Help: "Number of recipient send attempts by outcome.",
		}, []string{"status"}),
	}, nil
}

// Dispatch sends the message to every recipient, BatchSize at a time with BatchDelay between windows.
// A failing recipient is recorded in the tally. An error is only returned when the dispatch itself
// breaks down, the tally then holds what was resolved before that.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, onProgress ProgressFunc) (Tally, error) {
	t := &tally{
		total:      len(req.Recipients),
		onProgress: onProgress,
	}
	if t.total == 0 {
		return t.result(), nil
	}

	logger := d.log.WithField("job", req.JobID.String())

	if v, ok := d.sender.(transport.Verifier); ok && d.cfg.Verify {
		if err := v.Verify(ctx); err != nil {
			logger.WithError(err).Error("transport preflight failed")
			return t.result(), fmt.Errorf("transport preflight failed: %w", err)
		}
	}

	wins := windows(t.total, d.cfg.BatchSize)
	logger.Debugf("dispatching to %d recipients in %d windows", t.total, len(wins))

	for i, w := range wins {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				return t.result(), fmt.Errorf("dispatch interrupted after %d of %d recipients: %w", t.processed, t.total, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return t.result(), fmt.Errorf("dispatch interrupted after %d of %d recipients: %w", t.processed, t.total, err)
		}

		start := time.Now()
		var g errgroup.Group
		for idx := w.from; idx < w.to; idx++ {
			idx := idx
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("send to %s panicked: %v", req.Recipients[idx], r)
					}
				}()
				t.record(d.attempt(ctx, req, idx))
				return nil
			})
		}
		err := g.Wait()
		d.windowDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			logger.WithError(err).Error("window failed")
			return t.result(), err
		}
		logger.Debugf("window %d/%d done, %d/%d processed", i+1, len(wins), t.processed, t.total)
	}

	return t.result(), nil
}

func (d *Dispatcher) attempt(ctx context.Context, req Request, idx int) bulkbrev.Outcome {
	msg := req.Message
	msg.To = req.Recipients[idx]

	o := bulkbrev.Outcome{
		Email: msg.To,
		TID:   req.JobID.ToTID(idx),
	}

	id, err := d.sender.Send(ctx, msg)
	o.Timestamp = time.Now()
	if err != nil {
		o.Status = bulkbrev.OutcomeFailed
		o.Error = err.Error()
		d.recipients.WithLabelValues(o.Status.String()).Inc()
		return o
	}
	o.Status = bulkbrev.OutcomeSent
	o.MessageId = id
	d.recipients.WithLabelValues(o.Status.String()).Inc()
	return o
}

type window struct {
	from int
	to   int
}

// windows partitions n recipients by position into consecutive windows of at most size
func windows(n int, size int) []window {
	var ws []window
	for from := 0; from < n; from += size {
		to := from + size
		if to > n {
			to = n
		}
		ws = append(ws, window{from: from, to: to})
	}
	return ws
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tally serializes the recording of outcomes and the progress callbacks
type tally struct {
	mu         sync.Mutex
	total      int
	processed  int
	results    []bulkbrev.Outcome
	successful []bulkbrev.Outcome
	failed     []bulkbrev.Outcome
	onProgress ProgressFunc
}

func (t *tally) record(o bulkbrev.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed++
	t.results = append(t.results, o)
	switch o.Status {
	case bulkbrev.OutcomeSent:
		t.successful = append(t.successful, o)
	default:
		t.failed = append(t.failed, o)
	}

	if t.onProgress == nil {
		return
	}
	t.onProgress(Snapshot{
		Processed:  t.processed,
		Successful: len(t.successful),
		Failed:     len(t.failed),
		Results:    append([]bulkbrev.Outcome(nil), t.results...),
	})
}

func (t *tally) result() Tally {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Tally{
		Total:      t.total,
		Successful: append([]bulkbrev.Outcome{}, t.successful...),
		Failed:     append([]bulkbrev.Outcome{}, t.failed...),
		Results:    append([]bulkbrev.Outcome{}, t.results...),
	}
}

package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modfin/bulkbrev"
	"github.com/modfin/bulkbrev/internal/bulk"
	"github.com/modfin/bulkbrev/internal/metrics"
	"github.com/modfin/bulkbrev/internal/transport"
	"github.com/modfin/bulkbrev/pkg/zid"
	"github.com/modfin/bulkbrev/tools"
	"github.com/modfin/henry/compare"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
)

const maxBodySize = 10 << 20
const maxWait = 60 * time.Second

type Config struct {
	Interface string
	Port      int

	Hostname string
	AutoTLS  bool

	DefaultSender string // overrides the sender of requests when set
	MaxRecipients int

	RateLimit RateLimitConfig
}

// Jobs is what the api needs from the bulk orchestrator
type Jobs interface {
	Submit(req bulk.Request) zid.ID
	Status(id string) (bulkbrev.Job, bool)
	Await(ctx context.Context, id string) (bulkbrev.Job, bool)
}

type Server struct {
	config  Config
	log     *logrus.Logger
	jobs    Jobs
	sender  transport.Sender
	metrics *metrics.Metrics
	limiter *RateLimiter
	started time.Time

	ohandler sync.Once
	handler  http.Handler
	srv      *http.Server
}

func New(cfg Config, jobs Jobs, sender transport.Sender, lc *tools.Logger, m *metrics.Metrics) *Server {
	if lc == nil {
		lc = tools.LoggerCloner(nil)
	}
	cfg.MaxRecipients = compare.Coalesce(cfg.MaxRecipients, 100)
	return &Server{
		config:  cfg,
		log:     lc.New("web"),
		jobs:    jobs,
		sender:  sender,
		metrics: m,
		limiter: NewRateLimiter(cfg.RateLimit),
		started: time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	s.ohandler.Do(func() {
		s.handler = s.routes()
	})
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(recoverer(s.log))
	mux.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	mux.Use(middleware.Heartbeat("/ping"))
	if s.metrics != nil {
		mux.Use(s.metrics.Middleware())
		mux.Get("/metrics", s.metrics.HttpMetrics())
	}

	mux.Get("/", health(s))

	mux.Route("/api", func(r chi.Router) {
		r.With(s.limiter.Middleware, limitBody).Post("/send-bulk-email", sendBulk(s))
		r.With(s.limiter.Middleware, limitBody).Post("/send-email", sendOne(s))
		r.Get("/email-status/{requestId}", status(s))
	})

	mux.NotFound(notFound)
	mux.MethodNotAllowed(notFound)
	return mux
}

// Start listens on the configured port, or on 443 with a certificate from let's encrypt when AutoTLS is set
func (s *Server) Start() error {
	var l net.Listener
	var err error
	if s.config.AutoTLS {
		l = autocert.NewListener(s.config.Hostname)
	} else {
		l, err = net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Interface, compare.Coalesce(s.config.Port, 3000)))
		if err != nil {
			return fmt.Errorf("could not listen: %w", err)
		}
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Infof("bulk email api listening on %s", l.Addr())
		err := s.srv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("webserver stopped")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.limiter.Stop()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modfin/bulkbrev/internal/bulk"
	"github.com/modfin/bulkbrev/internal/config"
	"github.com/modfin/bulkbrev/internal/dispatch"
	"github.com/modfin/bulkbrev/internal/metrics"
	"github.com/modfin/bulkbrev/internal/registry"
	"github.com/modfin/bulkbrev/internal/transport"
	"github.com/modfin/bulkbrev/internal/web"
	"github.com/modfin/bulkbrev/tools"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {

	app := &cli.App{
		Name:   "bulkbrevd",
		Usage:  "a service for sending one email to many recipients",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the bulk email api, configured through the environment",
				Action: serve,
			},
			{
				Name:   "verify",
				Usage:  "check that the smtp relay is reachable and accepts the credentials",
				Action: verify,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}

}

func newSMTP(cfg *config.Config, lc *tools.Logger, m *metrics.Metrics) *transport.SMTP {
	return transport.NewSMTP(transport.SMTPConfig{
		Host:               cfg.SMTPHost,
		Port:               cfg.SMTPPort,
		User:               cfg.SMTPUser,
		Pass:               cfg.SMTPPass,
		SSL:                cfg.SMTPSSL,
		InsecureSkipVerify: cfg.SMTPInsecureSkipVerify,
		LocalName:          cfg.SMTPLocalName,
	}, lc, m)
}

func verify(c *cli.Context) error {
	cfg := config.Get()
	lc := tools.LoggerCloner(tools.NewLogger(cfg.LogLevel, cfg.LogFormat))

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	err := newSMTP(cfg, lc, nil).Verify(ctx)
	if err != nil {
		return err
	}
	lc.New("bulkbrevd").Info("smtp relay is ready to take our messages")
	return nil
}

func serve(c *cli.Context) error {
	cfg := config.Get()

	root := tools.NewLogger(cfg.LogLevel, cfg.LogFormat)
	lc := tools.LoggerCloner(root)
	l := lc.New("bulkbrevd")

	l.Infof("Starting server")

	m := metrics.New(metrics.Config{
		ServiceName:  "bulkbrevd",
		Push:         cfg.MetricsPush,
		PushInterval: cfg.MetricsPushInterval,
		Poll:         cfg.MetricsPoll,
		PollUser:     cfg.MetricsPollUser,
		PollPassword: cfg.MetricsPollPassword,
	}, lc)
	m.Start()

	smtp := newSMTP(cfg, lc, m)
	if cfg.VerifyOnStart {
		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		err := smtp.Verify(ctx)
		cancel()
		if err != nil {
			l.WithError(err).Error("smtp relay is not usable, jobs will fail until it is")
		} else {
			l.Info("smtp relay is ready to take our messages")
		}
	}

	reg := registry.New(registry.Config{Retention: cfg.JobRetention}, lc, m)
	reg.Start()

	dispatcher, err := dispatch.New(dispatch.Config{
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay(),
		Verify:     cfg.VerifyBeforeDispatch,
	}, smtp, lc, m)
	if err != nil {
		return err
	}

	jobs := bulk.New(bulk.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, reg, dispatcher, lc, m)

	server := web.New(web.Config{
		Interface:     cfg.Interface,
		Port:          cfg.Port,
		Hostname:      cfg.Hostname,
		AutoTLS:       cfg.AutoTLS,
		DefaultSender: cfg.DefaultSender(),
		MaxRecipients: cfg.MaxRecipientsPerRequest,
		RateLimit: web.RateLimitConfig{
			Max:    cfg.RateLimitMaxRequests,
			Window: cfg.RateLimitWindow(),
		},
	}, jobs, smtp, lc, m)
	err = server.Start()
	if err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	l.Infof("Got signal: %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		<-shutdownCtx.Done()
		if shutdownCtx.Err() == context.DeadlineExceeded {
			l.WithError(shutdownCtx.Err()).Warn("Shutdown was forced, terminating now")
			os.Exit(1)
		}
	}()

	stop := func(name string, service Stoppable, ctx context.Context) {
		err := service.Stop(ctx)
		if err != nil {
			l.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// the api stops taking jobs before the running ones are awaited, jobs still running after
	// the drain period are cancelled and end up in status error
	stop("web", server, shutdownCtx)
	drainCtx, cancelDrain := context.WithTimeout(shutdownCtx, 20*time.Second)
	stop("jobs", jobs, drainCtx)
	cancelDrain()
	stop("registry", reg, shutdownCtx)
	stop("metrics", m, shutdownCtx)

	l.Infof("Shutdown complete, terminating now")
	return nil
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

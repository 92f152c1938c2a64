package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modfin/bulkbrev/internal/metrics"
	"github.com/modfin/bulkbrev/internal/sanitize"
	"github.com/modfin/bulkbrev/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Pass               string
	SSL                bool // implicit tls, otherwise STARTTLS is used when offered
	InsecureSkipVerify bool
	LocalName          string // HELO name
}

type SMTP struct {
	dialer *gomail.Dialer
	domain string
	log    *logrus.Logger

	sendDuration *prometheus.HistogramVec
}

func NewSMTP(cfg SMTPConfig, lc *tools.Logger, m *metrics.Metrics) *SMTP {
	if lc == nil {
		lc = tools.LoggerCloner(nil)
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.SSL = d.SSL || cfg.SSL
	d.LocalName = cfg.LocalName
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host}
	}

	domain := cfg.Host
	if dom, err := tools.DomainOfEmail(cfg.User); err == nil {
		domain = dom
	}

	s := &SMTP{
		dialer: d,
		domain: domain,
		log:    lc.New("smtp"),
		sendDuration: m.Register().NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulk_transport_send_seconds",
			Help:    "Time spent handing one message over to the smtp relay.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"success"}),
	}
	s.log.Infof("using smtp relay %s:%d, ssl=%t, user=%s", cfg.Host, cfg.Port, d.SSL, cfg.User)
	return s
}

func (s *SMTP) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageId := fmt.Sprintf("%s@%s", uuid.New().String(), s.domain)

	text := msg.Text
	if text == "" {
		text = sanitize.PlainText(msg.HTML)
	}

	m := gomail.NewMessage()
	m.SetHeader("Message-ID", fmt.Sprintf("<%s>", messageId))
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/plain", text)
	if strings.TrimSpace(msg.HTML) != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	// gomail sets Dialer.Auth lazily on dial, each send gets its own copy
	d := *s.dialer

	start := time.Now()
	err := d.DialAndSend(m)
	s.sendDuration.WithLabelValues(fmt.Sprint(err == nil)).Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.WithError(err).WithField("to", msg.To).Debug("send failed")
		return "", fmt.Errorf("could not send to %s: %w", msg.To, err)
	}
	s.log.WithField("to", msg.To).WithField("message-id", messageId).Debug("sent")
	return messageId, nil
}

// Verify dials and authenticates against the relay without sending anything
func (s *SMTP) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := *s.dialer
	conn, err := d.Dial()
	if err != nil {
		return fmt.Errorf("smtp relay %s:%d is not usable: %w", d.Host, d.Port, err)
	}
	return conn.Close()
}

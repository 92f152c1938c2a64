package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/modfin/bulkbrev"
)

type Config struct {
	Interface string `env:"BULK_INTERFACE"`
	Port      int    `env:"PORT" envDefault:"3000"`

	Hostname string `env:"BULK_HOSTNAME"`                    // public hostname of the api, used for auto tls
	AutoTLS  bool   `env:"BULK_AUTO_TLS" envDefault:"false"` // use autocert for getting a certificate for BULK_HOSTNAME

	LogLevel  string `env:"BULK_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BULK_LOG_FORMAT" envDefault:"text"` // text or json

	SMTPHost               string `env:"EMAIL_HOST" envDefault:"smtp.gmail.com"`
	SMTPPort               int    `env:"EMAIL_PORT" envDefault:"587"`
	SMTPUser               string `env:"EMAIL_USER"`
	SMTPPass               string `env:"EMAIL_PASS"`
	SMTPSSL                bool   `env:"EMAIL_SSL" envDefault:"false"` // implicit tls, eg port 465
	SMTPInsecureSkipVerify bool   `env:"EMAIL_INSECURE_SKIP_VERIFY" envDefault:"false"`
	SMTPLocalName          string `env:"EMAIL_LOCAL_NAME"`
	FromName               string `env:"FROM_NAME"`
	FromAddress            string `env:"FROM_ADDRESS"` // defaults to EMAIL_USER

	BatchSize               int           `env:"EMAIL_BATCH_SIZE" envDefault:"10"`
	BatchDelayMS            int           `env:"BATCH_DELAY_MS" envDefault:"1000"`
	MaxRecipientsPerRequest int           `env:"MAX_RECIPIENTS_PER_REQUEST" envDefault:"100"`
	VerifyBeforeDispatch    bool          `env:"BULK_VERIFY_BEFORE_DISPATCH" envDefault:"true"`
	VerifyOnStart           bool          `env:"BULK_VERIFY_ON_START" envDefault:"true"`
	Workers                 int           `env:"BULK_WORKERS" envDefault:"16"`
	QueueSize               int           `env:"BULK_QUEUE_SIZE" envDefault:"1024"`
	JobRetention            time.Duration `env:"BULK_JOB_RETENTION" envDefault:"0s"` // 0 keeps jobs for the lifetime of the process

	RateLimitWindowMS    int `env:"RATE_LIMIT_WINDOW_MS" envDefault:"900000"`
	RateLimitMaxRequests int `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"10"`

	MetricsPoll         bool          `env:"BULK_METRICS_POLL" envDefault:"true"`
	MetricsPollUser     string        `env:"BULK_METRICS_POLL_USER"`
	MetricsPollPassword string        `env:"BULK_METRICS_POLL_PASS"`
	MetricsPush         string        `env:"BULK_METRICS_PUSH_URL"`
	MetricsPushInterval time.Duration `env:"BULK_METRICS_PUSH_INTERVAL" envDefault:"1m"`
}

// BatchDelay is the pause between two dispatch windows
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// RateLimitWindow is the window RateLimitMaxRequests applies to
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// DefaultSender is the address all mail is sent from when configured, eg "Name" <user@example.com>.
// Empty when neither FROM_ADDRESS nor EMAIL_USER is set, the sender of the request is then used.
func (c *Config) DefaultSender() string {
	from := c.FromAddress
	if from == "" {
		from = c.SMTPUser
	}
	if from == "" {
		return ""
	}
	return bulkbrev.NewAddress(c.FromName, from).String()
}

func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("EMAIL_BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.BatchDelayMS < 0 {
		return fmt.Errorf("BATCH_DELAY_MS must not be negative, got %d", c.BatchDelayMS)
	}
	if c.MaxRecipientsPerRequest < 1 {
		return fmt.Errorf("MAX_RECIPIENTS_PER_REQUEST must be at least 1, got %d", c.MaxRecipientsPerRequest)
	}
	if c.Workers < 1 {
		return fmt.Errorf("BULK_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.RateLimitMaxRequests < 1 || c.RateLimitWindowMS < 1 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MS and RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if c.AutoTLS && c.Hostname == "" {
		return fmt.Errorf("BULK_HOSTNAME must be set when BULK_AUTO_TLS is enabled")
	}
	return nil
}

// Parse reads the config from the environment without caching it
func Parse() (Config, error) {
	c := Config{}
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("could not parse config from env: %w", err)
	}
	return c, c.Validate()
}

var (
	once sync.Once
	cfg  Config
)

func Get() *Config {
	once.Do(func() {
		var err error
		cfg, err = Parse()
		if err != nil {
			log.Panic("Couldn't parse Config from env: ", err)
		}
	})
	return &cfg
}

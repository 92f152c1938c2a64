package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla"
	"github.com/flashmob/go-guerrilla/backends"
	"github.com/flashmob/go-guerrilla/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	to        string
	subject   string
	messageId string
	data      string
}

// relay is an in-process smtp server, recipients with the local part "reject" are refused
type relay struct {
	mu   sync.Mutex
	mail []received
}

func (r *relay) Process(e *mail.Envelope) backends.Result {
	err := e.ParseHeaders()
	if err != nil {
		return backends.NewResult("500 could not parse headers")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rcpt := range e.RcptTo {
		r.mail = append(r.mail, received{
			to:        rcpt.String(),
			subject:   e.Header.Get("Subject"),
			messageId: e.Header.Get("Message-Id"),
			data:      e.Data.String(),
		})
	}
	return backends.NewResult("250 OK: Message received")
}

func (r *relay) ValidateRcpt(e *mail.Envelope) backends.RcptError {
	if len(e.RcptTo) > 0 && e.RcptTo[len(e.RcptTo)-1].User == "reject" {
		return backends.RcptError(errors.New("no such user"))
	}
	return nil
}

func (r *relay) Initialize(backends.BackendConfig) error { return nil }
func (r *relay) Reinitialize() error                     { return nil }
func (r *relay) Shutdown() error                         { return nil }
func (r *relay) Start() error                            { return nil }

func (r *relay) received() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received{}, r.mail...)
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startRelay(t *testing.T) (*relay, int) {
	port := freePort(t)
	r := &relay{}
	d := guerrilla.Daemon{
		Config: &guerrilla.AppConfig{
			Servers: []guerrilla.ServerConfig{{
				Hostname:        "relay.test",
				ListenInterface: fmt.Sprintf("127.0.0.1:%d", port),
				IsEnabled:       true,
				MaxSize:         1 << 20,
				Timeout:         30,
				MaxClients:      20,
			}},
			AllowedHosts: []string{"."},
			LogFile:      "off",
			LogLevel:     "error",
			PidFile:      filepath.Join(t.TempDir(), "relay.pid"),
		},
		Backend: r,
	}
	require.NoError(t, d.Start())
	t.Cleanup(d.Shutdown)
	return r, port
}

func TestSMTP_Send(t *testing.T) {
	r, port := startRelay(t)
	s := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: port, User: "noreply@example.com"}, nil, nil)

	id, err := s.Send(context.Background(), Message{
		From:    `"News" <noreply@example.com>`,
		To:      "a@x.com",
		Subject: "Hello",
		HTML:    "<p>Hello &amp; welcome</p>",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.com"), id)

	got := r.received()
	require.Len(t, got, 1)
	assert.Equal(t, "a@x.com", got[0].to)
	assert.Equal(t, "Hello", got[0].subject)
	assert.Equal(t, "<"+id+">", got[0].messageId)
	assert.Contains(t, got[0].data, "text/plain")
	assert.Contains(t, got[0].data, "text/html")
}

func TestSMTP_Send_Rejected(t *testing.T) {
	r, port := startRelay(t)
	s := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: port}, nil, nil)

	_, err := s.Send(context.Background(), Message{From: "noreply@example.com", To: "reject@x.com", Subject: "s", HTML: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reject@x.com")
	assert.Empty(t, r.received())
}

func TestSMTP_Send_Invalid(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1}, nil, nil)

	type testCase struct {
		name string
		msg  Message
		want error
	}
	for _, tc := range []testCase{
		{name: "no recipient", msg: Message{From: "a@x.com"}, want: ErrNoRecipient},
		{name: "no sender", msg: Message{To: "a@x.com"}, want: ErrNoSender},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Send(context.Background(), tc.msg)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ERROR: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSMTP_Send_Cancelled(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Send(ctx, Message{From: "a@x.com", To: "b@x.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSMTP_Verify(t *testing.T) {
	_, port := startRelay(t)
	ok := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: port}, nil, nil)
	assert.NoError(t, ok.Verify(context.Background()))

	down := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: freePort(t)}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	assert.Error(t, down.Verify(ctx))
}

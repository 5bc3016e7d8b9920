package email

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type fakeClient struct {
	mu    sync.Mutex
	sent  []string
	err   error
	block chan struct{}
}

func (f *fakeClient) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	if f.block != nil {
		// ведет себя как сервер, который принял соединение и замолчал
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range messages {
		var buf bytes.Buffer
		if _, err := m.WriteTo(&buf); err != nil {
			return err
		}
		f.sent = append(f.sent, buf.String())
	}
	return f.err
}

func (f *fakeClient) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestSender(client *fakeClient) *Sender {
	return &Sender{
		from:      "shop@example.com",
		newClient: func() (mailClient, error) { return client, nil },
	}
}

func TestNewSender(t *testing.T) {
	s, err := NewSender("smtp.example.com", 587, "mailer", "secret", "shop@example.com", 5*time.Second)
	require.NoError(t, err)
	client, err := s.newClient()
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = NewSender("", 587, "", "", "shop@example.com", 0)
	assert.Error(t, err, "host is required")
}

func TestSender_Send(t *testing.T) {
	client := &fakeClient{}
	s := newTestSender(client)

	require.NoError(t, s.Send(context.Background(), "reseller@example.com", "Payment confirmed", "Thanks"))

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "shop@example.com")
	assert.Contains(t, msgs[0], "reseller@example.com")
	assert.Contains(t, msgs[0], "Subject: Payment confirmed")
	assert.Contains(t, msgs[0], "Thanks")
}

func TestSender_Rejects(t *testing.T) {
	client := &fakeClient{}
	s := newTestSender(client)

	assert.Error(t, s.Send(context.Background(), "", "s", "b"))
	assert.ErrorIs(t, s.Send(context.Background(), "a@example.com", "s\r\nBcc: x@example.com", "b"), errHeaderInjection)
	assert.Error(t, s.Send(context.Background(), "not an address", "s", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, "a@example.com", "s", "b"), context.Canceled)
	assert.Empty(t, client.messages(), "nothing was sent")
}

func TestSender_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	s := newTestSender(&fakeClient{err: boom})

	assert.ErrorIs(t, s.Send(context.Background(), "a@example.com", "s", "b"), boom)
}

func TestSender_ReturnsAtDeadlineWhenClientHangs(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	defer close(client.block)
	s := newTestSender(client)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, "a@example.com", "s", "b")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSender_SilentServerDoesNotBlock(t *testing.T) {
	// сервер принимает соединение, но не присылает приветствие
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s, err := NewSender("127.0.0.1", addr.Port, "", "", "shop@example.com", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, "a@example.com", "s", "b")

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

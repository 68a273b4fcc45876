package neighbourhood

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olaf-neighbourhood/olaf/crypto"
	"github.com/olaf-neighbourhood/olaf/envelope"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/transport/ws"
)

func discardLogger() logger.Logger {
	return logger.NewLogger(io.Discard, logger.ErrorLevel)
}

func TestJitterStaysWithinBounds(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 200; i++ {
		got := jitter(d)
		assert.GreaterOrEqual(t, got, 8*time.Second)
		assert.LessOrEqual(t, got, 12*time.Second)
	}
}

func TestDialOnceSendsServerHelloThenClientListRequest(t *testing.T) {
	kp, err := crypto.GenerateClientKey()
	require.NoError(t, err)

	received := make(chan interface{}, 2)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := ws.Accept(w, r)
		if err != nil {
			return
		}
		defer sess.Close()
		for i := 0; i < 2; i++ {
			raw, err := sess.Receive()
			if err != nil {
				return
			}
			frame, err := envelope.DecodeFrame(raw)
			if err != nil {
				return
			}
			received <- frame
		}
	}))
	defer httpSrv.Close()

	addr := strings.TrimPrefix(httpSrv.URL, "http://")
	handled := make(chan struct{})
	m := New("self:9000", []string{addr}, kp, 2*time.Second, func(sess *ws.Session) {
		close(handled)
		sess.Close()
	}, discardLogger())

	err = m.dialOnce(context.Background(), addr)
	require.NoError(t, err)
	<-handled

	first := <-received
	env, ok := first.(*envelope.SignedEnvelope)
	require.True(t, ok)
	payload, err := envelope.DecodePayload(env)
	require.NoError(t, err)
	hello, ok := payload.(*envelope.ServerHelloPayload)
	require.True(t, ok)
	assert.Equal(t, "self:9000", hello.Sender)

	second := <-received
	_, ok = second.(*envelope.ClientListRequest)
	assert.True(t, ok)
}

func TestManagerStopReturnsPromptly(t *testing.T) {
	kp, err := crypto.GenerateClientKey()
	require.NoError(t, err)

	// Nothing listens on this address: every dial fails and the loop
	// sleeps on backoff, which Stop must be able to cut short.
	m := New("self:9000", []string{"127.0.0.1:1"}, kp, 50*time.Millisecond, func(*ws.Session) {}, discardLogger())

	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}
}

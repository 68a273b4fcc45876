package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, onSession func(*Session)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := Accept(w, r)
		if err != nil {
			return
		}
		onSession(sess)
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, url
}

func TestSendReceiveRoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	srv, url := newTestServer(t, func(sess *Session) {
		frame, err := sess.Receive()
		if err == nil {
			received <- frame
		}
	})
	defer srv.Close()

	client, err := Dial(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte(`{"type":"hello"}`)))

	select {
	case frame := <-received:
		assert.Equal(t, `{"type":"hello"}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv, url := newTestServer(t, func(sess *Session) {
		_, _ = sess.Receive()
	})
	defer srv.Close()

	client, err := Dial(context.Background(), url, 5*time.Second)
	require.NoError(t, err)

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}

func TestSendAfterCloseReturnsErrClosed(t *testing.T) {
	srv, url := newTestServer(t, func(sess *Session) {
		_, _ = sess.Receive()
	})
	defer srv.Close()

	client, err := Dial(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	err = client.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFIFOOrderingWithinSession(t *testing.T) {
	const n = 20
	received := make(chan []byte, n)
	srv, url := newTestServer(t, func(sess *Session) {
		for i := 0; i < n; i++ {
			frame, err := sess.Receive()
			if err != nil {
				return
			}
			received <- frame
		}
	})
	defer srv.Close()

	client, err := Dial(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < n; i++ {
		require.NoError(t, client.Send([]byte{byte(i)}))
	}

	for i := 0; i < n; i++ {
		select {
		case frame := <-received:
			assert.Equal(t, byte(i), frame[0])
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

package client

import (
	"context"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olaf-neighbourhood/olaf/crypto"
	"github.com/olaf-neighbourhood/olaf/directory"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/server"
	"github.com/olaf-neighbourhood/olaf/transport/ws"
)

func discardLogger() logger.Logger {
	return logger.NewLogger(io.Discard, logger.ErrorLevel)
}

func startTestServer(t *testing.T, selfAddr string) (directory.Directory, string) {
	t.Helper()
	dir := directory.New(selfAddr)
	srv := server.New(selfAddr, dir, nil, discardLogger())

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := ws.Accept(w, r)
		if err != nil {
			return
		}
		srv.HandleSession(sess)
	}))
	t.Cleanup(httpSrv.Close)

	return dir, "ws" + strings.TrimPrefix(httpSrv.URL, "http")
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	kp, err := crypto.GenerateClientKey()
	require.NoError(t, err)
	return New(kp, discardLogger())
}

func TestConnectReachesReadyState(t *testing.T) {
	_, url := startTestServer(t, "srv1:8080")
	c := newTestClient(t)
	defer c.Close()

	err := c.Connect(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Ready, c.State())
}

func TestListUsersHoldsOnlySelfBeforeAnyPeerJoins(t *testing.T) {
	_, url := startTestServer(t, "srv1:8080")
	c := newTestClient(t)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background(), url, 5*time.Second))

	// c is the only client so far; the client_list merged during Connect
	// should carry only its own entry.
	assert.Equal(t, []string{c.selfFP}, c.ListUsers())
}

func TestPublicChatDeliveredBetweenTwoClients(t *testing.T) {
	_, url := startTestServer(t, "srv1:8080")

	alice := newTestClient(t)
	defer alice.Close()
	bob := newTestClient(t)
	defer bob.Close()

	// Alice joins first so bob's client_list_request (sent during his own
	// Connect) already includes her key.
	require.NoError(t, alice.Connect(context.Background(), url, 5*time.Second))
	require.NoError(t, bob.Connect(context.Background(), url, 5*time.Second))

	require.NoError(t, alice.SendPublicChat("hello bob"))

	require.Eventually(t, func() bool {
		for _, m := range bob.Messages() {
			if m.Text == "hello bob" && m.Sender == alice.selfFP {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestPrivateChatOnlyStoredForParticipant(t *testing.T) {
	_, url := startTestServer(t, "srv1:8080")

	// Alice connects first so bob and carol's own client_list_request,
	// issued during their Connect, already carries her key.
	alice := newTestClient(t)
	defer alice.Close()
	require.NoError(t, alice.Connect(context.Background(), url, 5*time.Second))

	bob := newTestClient(t)
	defer bob.Close()
	require.NoError(t, bob.Connect(context.Background(), url, 5*time.Second))

	carol := newTestClient(t)
	defer carol.Close()
	require.NoError(t, carol.Connect(context.Background(), url, 5*time.Second))

	err := alice.SendChat(
		[]string{"srv1:8080"},
		[]*rsa.PublicKey{bob.selfKey.PublicKey()},
		[]string{alice.selfFP, bob.selfFP},
		"just for bob",
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, m := range bob.Messages() {
			if m.Private && m.Text == "just for bob" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// destination_servers names only srv1:8080 and carol is local to the
	// same server, so the server fans the raw envelope to every local
	// client including carol; she must still never store it since her
	// key never unwraps the symmetric key.
	time.Sleep(50 * time.Millisecond)
	for _, m := range carol.Messages() {
		assert.NotEqual(t, "just for bob", m.Text)
	}
}

func TestListUsersReflectsMergedDirectory(t *testing.T) {
	_, url := startTestServer(t, "srv1:8080")

	alice := newTestClient(t)
	defer alice.Close()
	require.NoError(t, alice.Connect(context.Background(), url, 5*time.Second))

	bob := newTestClient(t)
	defer bob.Close()
	require.NoError(t, bob.Connect(context.Background(), url, 5*time.Second))

	// bob connected after alice, so his own client_list merge includes
	// her; confirm that directory is reflected in ListUsers.
	assert.Contains(t, bob.ListUsers(), alice.selfFP)
}

func TestSendCommandsRejectedBeforeReady(t *testing.T) {
	c := newTestClient(t)
	defer c.Close()

	err := c.SendPublicChat("too early")
	assert.ErrorIs(t, err, ErrNotReady)
}

package server

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

	olafcrypto "github.com/olaf-neighbourhood/olaf/crypto"
	"github.com/olaf-neighbourhood/olaf/directory"
	"github.com/olaf-neighbourhood/olaf/envelope"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/transport/ws"
)

func discardLogger() logger.Logger {
	return logger.NewLogger(io.Discard, logger.ErrorLevel)
}

func startTestServer(t *testing.T, selfAddr string, neighbours []string) (*Server, directory.Directory, string) {
	t.Helper()
	dir := directory.New(selfAddr)
	srv := New(selfAddr, dir, neighbours, discardLogger())

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := ws.Accept(w, r)
		if err != nil {
			return
		}
		srv.HandleSession(sess)
	}))
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return srv, dir, url
}

type testClient struct {
	sess    *ws.Session
	kp      olafcrypto.KeyPair
	pubDER  string
	fp      string
	counter uint64
}

func connectClient(t *testing.T, url string) *testClient {
	t.Helper()
	kp, err := olafcrypto.GenerateClientKey()
	require.NoError(t, err)
	pubDER, err := olafcrypto.EncodePublicKeyDER(kp.PublicKey())
	require.NoError(t, err)

	sess, err := ws.Dial(context.Background(), url, 5*time.Second)
	require.NoError(t, err)

	return &testClient{sess: sess, kp: kp, pubDER: pubDER, fp: kp.Fingerprint()}
}

func (c *testClient) sendHello(t *testing.T, counter uint64) {
	t.Helper()
	env, err := envelope.SignPayload(c.kp, envelope.NewHello(c.pubDER), counter)
	require.NoError(t, err)
	raw, err := envelope.EncodeFrame(env)
	require.NoError(t, err)
	require.NoError(t, c.sess.Send(raw))
	c.counter = counter
}

func (c *testClient) sendPublicChat(t *testing.T, message string, counter uint64) {
	t.Helper()
	env, err := envelope.SignPayload(c.kp, envelope.NewPublicChat(c.fp, message), counter)
	require.NoError(t, err)
	raw, err := envelope.EncodeFrame(env)
	require.NoError(t, err)
	require.NoError(t, c.sess.Send(raw))
}

func recvFrame(t *testing.T, c *testClient) interface{} {
	t.Helper()
	raw, err := c.sess.Receive()
	require.NoError(t, err)
	frame, err := envelope.DecodeFrame(raw)
	require.NoError(t, err)
	return frame
}

func TestHelloAcceptedAndRegistersFingerprint(t *testing.T) {
	_, dir, url := startTestServer(t, "srv1:8080", nil)
	client := connectClient(t, url)
	defer client.sess.Close()

	client.sendHello(t, 1)

	require.Eventually(t, func() bool {
		return len(dir.LocalClients()) == 1
	}, time.Second, 10*time.Millisecond)

	clients := dir.LocalClients()
	require.Len(t, clients, 1)
	assert.Equal(t, client.fp, clients[0].Fingerprint)
}

func TestClientListRequestReturnsOwnEntry(t *testing.T) {
	_, _, url := startTestServer(t, "srv1:8080", nil)
	client := connectClient(t, url)
	defer client.sess.Close()

	client.sendHello(t, 1)

	req := envelope.NewClientListRequest()
	raw, err := envelope.EncodeFrame(req)
	require.NoError(t, err)
	require.NoError(t, client.sess.Send(raw))

	frame := recvFrame(t, client)
	list, ok := frame.(*envelope.ClientList)
	require.True(t, ok)
	require.Len(t, list.Servers, 1)
	assert.Equal(t, "srv1:8080", list.Servers[0].Address)
	assert.Contains(t, list.Servers[0].Clients, client.pubDER)
}

func TestPublicChatFansOutToOtherClientsNotOrigin(t *testing.T) {
	_, _, url := startTestServer(t, "srv1:8080", nil)
	alice := connectClient(t, url)
	defer alice.sess.Close()
	bob := connectClient(t, url)
	defer bob.sess.Close()

	alice.sendHello(t, 1)
	bob.sendHello(t, 1)

	// drain any directory-push races is unnecessary here: pushes only go to server peers.
	alice.sendPublicChat(t, "hi bob", 2)

	frame := recvFrame(t, bob)
	chat, ok := frame.(*envelope.SignedEnvelope)
	require.True(t, ok)
	payload, err := envelope.DecodePayload(chat)
	require.NoError(t, err)
	pc, ok := payload.(*envelope.PublicChatPayload)
	require.True(t, ok)
	assert.Equal(t, "hi bob", pc.Message)
	assert.Equal(t, alice.fp, pc.Sender)
}

func TestStaleCounterDroppedButSessionSurvives(t *testing.T) {
	_, _, url := startTestServer(t, "srv1:8080", nil)
	alice := connectClient(t, url)
	defer alice.sess.Close()
	bob := connectClient(t, url)
	defer bob.sess.Close()

	alice.sendHello(t, 5)
	bob.sendHello(t, 1)

	alice.sendPublicChat(t, "stale", 5) // <= last accepted counter (5): must be dropped
	alice.sendPublicChat(t, "fresh", 6) // valid: must arrive

	frame := recvFrame(t, bob)
	env := frame.(*envelope.SignedEnvelope)
	payload, err := envelope.DecodePayload(env)
	require.NoError(t, err)
	pc := payload.(*envelope.PublicChatPayload)
	assert.Equal(t, "fresh", pc.Message)
}

func TestServerHelloRejectedForUnconfiguredNeighbour(t *testing.T) {
	_, _, url := startTestServer(t, "srv1:8080", []string{"srv2:9090"})

	kp, err := olafcrypto.GenerateClientKey()
	require.NoError(t, err)
	sess, err := ws.Dial(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	env, err := envelope.SignPayload(kp, envelope.NewServerHello("unknown:1111"), 1)
	require.NoError(t, err)
	raw, err := envelope.EncodeFrame(env)
	require.NoError(t, err)
	require.NoError(t, sess.Send(raw))

	// A server_hello from an address outside the configured neighbour
	// list is rejected while the session is still Unverified, which
	// closes the session immediately (§4.5, §8 "Hello from a server not
	// in the peer list -> session closed immediately").
	_, err = sess.Receive()
	assert.Error(t, err)
}

func TestServerHelloAcceptedForConfiguredNeighbour(t *testing.T) {
	_, dir, url := startTestServer(t, "srv1:8080", []string{"srv2:9090"})

	kp, err := olafcrypto.GenerateClientKey()
	require.NoError(t, err)
	sess, err := ws.Dial(context.Background(), url, 5*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	env, err := envelope.SignPayload(kp, envelope.NewServerHello("srv2:9090"), 1)
	require.NoError(t, err)
	raw, err := envelope.EncodeFrame(env)
	require.NoError(t, err)
	require.NoError(t, sess.Send(raw))

	require.Eventually(t, func() bool {
		return len(dir.PeerServers()) == 1
	}, time.Second, 10*time.Millisecond)
}

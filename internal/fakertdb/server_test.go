package fakertdb

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStream(t *testing.T, server *Server, path string) (*http.Response, *StreamConn) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, server.URL()+path, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := server.NextConn(ctx)
	require.NoError(t, err)

	return resp, conn
}

func TestStreamConn(t *testing.T) {
	server := NewServer()
	t.Cleanup(server.Stop)

	resp, conn := openStream(t, server, "/room.json?orderBy=%22%24key%22")
	assert.Equal(t, "room", conn.Path)
	assert.Equal(t, []string{`"$key"`}, conn.Query["orderBy"])

	require.NoError(t, conn.Put("/", map[string]any{"a": 1}))

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: put\n", line)

	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "), "got %q", line)

	conn.Drop()
	conn.Drop() // idempotent

	// The client drains the rest of the stream and sees a clean end.
	_, err = io.ReadAll(br)
	require.NoError(t, err)

	// Writes after the drop fail instead of touching a finished response.
	assert.Error(t, conn.Put("/", nil))
	assert.Error(t, conn.Raw("event: x\n\n"))
}

func TestStreamConnClientDisconnect(t *testing.T) {
	server := NewServer()
	t.Cleanup(server.Stop)

	resp, conn := openStream(t, server, "/room.json")
	resp.Body.Close()

	// Once the handler notices the disconnect, scripted frames are refused.
	require.Eventually(t, func() bool {
		return conn.KeepAlive() != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStreamFailureInjection(t *testing.T) {
	server := NewServer()
	t.Cleanup(server.Stop)

	server.FailStreams(http.StatusServiceUnavailable, 2)

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodGet, server.URL()+"/room.json", nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}

	// The budget is spent; the next stream opens normally.
	_, conn := openStream(t, server, "/room.json")
	require.NoError(t, conn.KeepAlive())
}

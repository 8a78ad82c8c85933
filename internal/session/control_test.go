package session

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithRetryEventuallySucceeds(t *testing.T) {
	runner := newFakeRunner()
	d := &fakeDialer{runner: runner, failures: 3}

	conn, err := ConnectWithRetry(d, time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 4, d.attempts)
}

func TestConnectWithRetryTimeout(t *testing.T) {
	d := &fakeDialer{runner: newFakeRunner(), failures: -1}
	interval, timeout := 25*time.Millisecond, 100*time.Millisecond

	start := time.Now()
	_, err := ConnectWithRetry(d, interval, timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	var cte *ConnectionTimeoutError
	require.ErrorAs(t, err, &cte)
	assert.Equal(t, "fake.sock", cte.Address)
	assert.Equal(t, timeout, cte.Timeout)
	assert.GreaterOrEqual(t, elapsed, timeout, "gives up only after the timeout")
	assert.Less(t, elapsed, timeout+interval, "never waits a full interval past the timeout")
	assert.GreaterOrEqual(t, cte.Attempts, 2)
	assert.LessOrEqual(t, cte.Attempts, int(timeout/interval)+1, "attempts are spaced by the interval")
	assert.EqualError(t, cte.Unwrap(), "connection refused")
}

func TestUnixDialerSendsEnd(t *testing.T) {
	dir, err := os.MkdirTemp("", "us")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "ultracomm.sock")

	d := UnixDialer{Path: sock, Timeout: 50 * time.Millisecond}
	_, err = d.Dial()
	require.Error(t, err, "nothing listening yet")

	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			received <- ""
			return
		}
		defer c.Close()
		data, _ := io.ReadAll(c)
		received <- string(data)
	}()

	conn, err := ConnectWithRetry(d, 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NoError(t, SendEnd(conn))
	require.NoError(t, conn.Close())

	select {
	case got := <-received:
		assert.Equal(t, "END", got)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon never received the end token")
	}
	assert.Equal(t, sock, d.Address())
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return 1, nil }

func TestSendEndShortWrite(t *testing.T) {
	err := SendEnd(shortWriter{})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

package listener

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListenerTriggersOnConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bwt.sock")
	triggered := make(chan struct{}, 4)

	l, err := Listen(path, func() { triggered <- struct{}{} }, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("unix", path)
		require.NoError(t, err)
		conn.Close()
		select {
		case <-triggered:
		case <-time.After(5 * time.Second):
			t.Fatalf("connect %d did not trigger a sync", i)
		}
	}
}

func TestListenerReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bwt.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	l, err := Listen(path, func() {}, zap.NewNop())
	require.NoError(t, err)
	l.Close()

	// the socket file is gone after Close
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestListenerCloseStopsAccepting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bwt.sock")
	l, err := Listen(path, func() {}, zap.NewNop())
	require.NoError(t, err)
	l.Close()

	_, err = net.Dial("unix", path)
	require.Error(t, err)
}

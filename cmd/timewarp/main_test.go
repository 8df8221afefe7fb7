package main

import (
	"bytes"
	"context"
	"math"
	"net"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/timewarp/logger"
	"github.com/cyberinferno/timewarp/offsetstore"
	"github.com/cyberinferno/timewarp/tcpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type offsets struct {
	mu   sync.Mutex
	seen []int64
}

func (o *offsets) add(_ any, offset int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, offset)
}

func (o *offsets) get() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.seen...)
}

func startTestServer(t *testing.T, cb tcpserver.Callback, userContext any) *tcpserver.Server {
	t.Helper()

	cfg := tcpserver.DefaultConfig()
	cfg.Interface = "127.0.0.1"
	cfg.Port = 0
	cfg.ReadPollInterval = 50 * time.Millisecond
	srv, err := tcpserver.Start(cb, userContext, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv
}

func TestRecordOffset(t *testing.T) {
	store := offsetstore.NewMemoryStore(0, 0)
	r := &recorder{store: store, logger: logger.NewNopLogger()}

	recordOffset(r, -250)
	recordOffset(r, 400)

	entry, ok, err := store.Current(context.Background(), currentSource)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(400), entry.Offset)
}

func TestMetricsServer(t *testing.T) {
	srv := startTestServer(t, func(any, int64) {}, nil)

	rec := httptest.NewRecorder()
	metricsServer("127.0.0.1:0", srv).Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "timewarp_connections_accepted_total")
	assert.Contains(t, body, "process_")
}

func TestCommands(t *testing.T) {
	run := func(t *testing.T, args ...string) string {
		t.Helper()

		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	t.Run("version prints the version", func(t *testing.T) {
		assert.Equal(t, "timewarp v"+Version+"\n", run(t, "version"))
	})

	t.Run("send delivers every offset in order", func(t *testing.T) {
		var got offsets
		srv := startTestServer(t, got.add, nil)
		port := srv.Addr().(*net.TCPAddr).Port

		out := run(t, "send", "--host=127.0.0.1", "--port="+strconv.Itoa(port), "--", "5", "-7", "0")
		assert.Contains(t, out, "sent offset -7")

		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]int64{5, -7, 0}, got.get())
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("sweep sends the whole range", func(t *testing.T) {
		var got offsets
		srv := startTestServer(t, got.add, nil)
		port := srv.Addr().(*net.TCPAddr).Port

		run(t, "sweep", "--host=127.0.0.1", "--port="+strconv.Itoa(port),
			"--from=-20", "--to=20", "--step=10", "--delay=1ms")

		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]int64{-20, -10, 0, 10, 20}, got.get())
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("sweep stops at the top of the int64 range", func(t *testing.T) {
		var got offsets
		srv := startTestServer(t, got.add, nil)
		port := srv.Addr().(*net.TCPAddr).Port
		from := int64(math.MaxInt64 - 150)

		done := make(chan string, 1)
		go func() {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetErr(&out)
			rootCmd.SetArgs([]string{"sweep", "--host=127.0.0.1", "--port=" + strconv.Itoa(port),
				"--from=" + strconv.FormatInt(from, 10), "--to=" + strconv.FormatInt(math.MaxInt64, 10),
				"--step=100", "--delay=1ms"})
			_ = rootCmd.Execute()
			done <- out.String()
		}()

		select {
		case out := <-done:
			assert.NotContains(t, out, "sent offset -")
		case <-time.After(2 * time.Second):
			t.Fatal("sweep did not stop")
		}

		want := []int64{from, from + 100}
		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual(want, got.get())
		}, time.Second, 10*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, want, got.get())
	})
}

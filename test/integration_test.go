package test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"frame-server/client"
	"frame-server/codec"
	"frame-server/dispatch"
	"frame-server/middleware"
	"frame-server/server"
)

func startServer(t *testing.T, mws ...middleware.Middleware) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(server.Config{
		PollInterval: 20 * time.Millisecond,
		GracePeriod:  10 * time.Millisecond,
	}, dispatch.Default(), zap.NewNop())
	for _, mw := range mws {
		svr.Use(mw)
	}
	go svr.Serve("tcp", "127.0.0.1:0")
	time.Sleep(100 * time.Millisecond)
	require.NotNil(t, svr.Addr())
	t.Cleanup(svr.Stop)
	return svr, svr.Addr().String()
}

// 50 connections, each sending 20 sequential echoes with distinct
// payloads. Every connection must receive exactly its own echoes, in
// order, with no cross-connection interleaving of payload content.
func TestConcurrentConnectionsKeepOrdering(t *testing.T) {
	_, addr := startServer(t)

	const (
		connections = 50
		messages    = 20
	)

	var wg sync.WaitGroup
	errCh := make(chan error, connections)

	for i := 0; i < connections; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			cli := client.NewClient(addr, codec.CodecTypeBinary, 1)
			defer cli.Close()

			for j := 0; j < messages; j++ {
				payload := []byte(fmt.Sprintf("conn_%02d_msg_%02d", id, j))
				got, err := cli.Echo(payload)
				if err != nil {
					errCh <- fmt.Errorf("conn %d msg %d: %v", id, j, err)
					return
				}
				if string(got) != string(payload) {
					errCh <- fmt.Errorf("conn %d msg %d: sent %q, got %q", id, j, payload, got)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

// Mixed echo/add/large-payload operations under concurrent load, counting
// successes like a stress run.
func TestMixedOperationsUnderLoad(t *testing.T) {
	_, addr := startServer(t)

	const (
		clients    = 25
		operations = 12
	)

	var success int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte(i)
	}

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()

			cli := client.NewClient(addr, codec.CodecTypeJSON, 2)
			defer cli.Close()

			for op := int64(0); op < operations; op++ {
				var err error
				switch op % 3 {
				case 0:
					_, err = cli.Echo([]byte(fmt.Sprintf("client_%d_op_%d", id, op)))
				case 1:
					var sum int64
					sum, err = cli.Add(id, op)
					if err == nil && sum != id+op {
						err = fmt.Errorf("expect %d, got %d", id+op, sum)
					}
				default:
					_, err = cli.Echo(large)
				}
				if err != nil {
					t.Errorf("client %d op %d: %v", id, op, err)
					return
				}
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(int64(i))
	}

	wg.Wait()
	assert.Equal(t, int64(clients*operations), success)
}

// Stop with connections mid-exchange must return only after every worker
// has exited, and a second Stop is an immediate no-op.
func TestShutdownUnderLoad(t *testing.T) {
	svr, addr := startServer(t)

	const k = 10
	clients := make([]*client.Client, 0, k)
	for i := 0; i < k; i++ {
		cli := client.NewClient(addr, codec.CodecTypeJSON, 1)
		defer cli.Close()
		_, err := cli.Echo([]byte(fmt.Sprintf("warm_%d", i)))
		require.NoError(t, err)
		clients = append(clients, cli)
	}
	require.Equal(t, k, svr.ActiveConnections())

	svr.Stop()
	assert.Equal(t, 0, svr.ActiveConnections())

	start := time.Now()
	svr.Stop()
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	// Calls after shutdown fail instead of hanging.
	_, err := clients[0].Echo([]byte("gone"))
	assert.Error(t, err)
}

// A full chain with logging + rate limiting: the limiter rejects the
// excess with an error response while the connection stays healthy.
func TestRateLimitedServer(t *testing.T) {
	_, addr := startServer(t,
		middleware.LoggingMiddleware(zap.NewNop()),
		middleware.RateLimitMiddleware(1, 2),
	)

	cli := client.NewClient(addr, codec.CodecTypeJSON, 1)
	defer cli.Close()

	// burst=2 passes.
	for i := 0; i < 2; i++ {
		_, err := cli.Echo([]byte("ok"))
		require.NoError(t, err)
	}

	// The third is rejected but the connection survives.
	_, err := cli.Echo([]byte("over"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")

	time.Sleep(1100 * time.Millisecond)
	_, err = cli.Echo([]byte("refilled"))
	assert.NoError(t, err)
}

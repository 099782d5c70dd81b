package server

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-server/codec"
	"frame-server/message"
	"frame-server/protocol"
)

// startTestServer boots a server on an ephemeral port with fast shutdown
// timings and returns it together with its address.
func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	svr := NewServer(Config{
		PollInterval: 20 * time.Millisecond,
		GracePeriod:  10 * time.Millisecond,
	}, nil, nil)

	go svr.Serve("tcp", "127.0.0.1:0")
	time.Sleep(100 * time.Millisecond)

	require.NotNil(t, svr.Addr(), "server did not bind")
	t.Cleanup(svr.Stop)

	return svr, svr.Addr().String()
}

// sendRequest writes one request frame and returns the decoded response.
func sendRequest(t *testing.T, conn net.Conn, seq uint32, req *message.Request) *message.Response {
	t.Helper()

	cdc := codec.GetCodec(codec.CodecTypeJSON)
	body, err := cdc.Encode(req)
	require.NoError(t, err)

	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	require.NoError(t, protocol.Encode(conn, &header, body))

	replyHeader, replyBody, err := protocol.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, seq, replyHeader.Seq)
	assert.Equal(t, protocol.MsgTypeResponse, replyHeader.MsgType)

	resp := &message.Response{}
	require.NoError(t, cdc.Decode(replyBody, resp))
	return resp
}

func TestServerEcho(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := sendRequest(t, conn, 1, message.NewEchoRequest([]byte("hello server")))
	require.NotNil(t, resp.Echo)
	assert.Equal(t, []byte("hello server"), resp.Echo.Payload)
}

func TestServerAdd(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := sendRequest(t, conn, 2, message.NewAddRequest(2, 3))
	require.NotNil(t, resp.Add)
	assert.Equal(t, int64(5), resp.Add.Result)

	resp = sendRequest(t, conn, 3, message.NewAddRequest(-1, 1))
	require.NotNil(t, resp.Add)
	assert.Equal(t, int64(0), resp.Add.Result)
}

func TestServerEmptyMessageIsSkipped(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// An empty request gets no response at all; the next request on the
	// same connection still works.
	cdc := codec.GetCodec(codec.CodecTypeJSON)
	body, err := cdc.Encode(&message.Request{})
	require.NoError(t, err)
	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       10,
		BodyLen:   uint32(len(body)),
	}
	require.NoError(t, protocol.Encode(conn, &header, body))

	resp := sendRequest(t, conn, 11, message.NewEchoRequest([]byte("still alive")))
	require.NotNil(t, resp.Echo)
	assert.Equal(t, []byte("still alive"), resp.Echo.Payload)
}

func TestServerLargeEchoPayload(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// Twice the worker's initial intake buffer: must round-trip untruncated.
	payload := make([]byte, protocol.DefaultBufferSize*2)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	resp := sendRequest(t, conn, 4, message.NewEchoRequest(payload))
	require.NotNil(t, resp.Echo)
	assert.Equal(t, payload, resp.Echo.Payload)
}

func TestSlowFrameDeliveryStillAnswered(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	cdc := codec.GetCodec(codec.CodecTypeJSON)
	body, err := cdc.Encode(message.NewEchoRequest([]byte("took its time")))
	require.NoError(t, err)
	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       21,
		BodyLen:   uint32(len(body)),
	}
	var buf bytes.Buffer
	require.NoError(t, protocol.Encode(&buf, &header, body))
	wire := buf.Bytes()

	// Drip the frame in three writes with pauses well past the worker's
	// 20ms poll interval. The deadlines firing mid-frame must not discard
	// the bytes already delivered.
	_, err = conn.Write(wire[:7])
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, err = conn.Write(wire[7 : protocol.HeaderSize+5])
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, err = conn.Write(wire[protocol.HeaderSize+5:])
	require.NoError(t, err)

	replyHeader, replyBody, err := protocol.Decode(conn)
	require.NoError(t, err, "no response to a slowly-delivered frame")
	assert.Equal(t, uint32(21), replyHeader.Seq)

	resp := &message.Response{}
	require.NoError(t, cdc.Decode(replyBody, resp))
	require.NotNil(t, resp.Echo)
	assert.Equal(t, []byte("took its time"), resp.Echo.Payload)
}

func TestMalformedBodyIsSkippedNotFatal(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// A valid header carrying an undecodable body: the frame boundary is
	// intact, so the worker skips the message and keeps the connection.
	garbage := []byte("{this is not json")
	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       30,
		BodyLen:   uint32(len(garbage)),
	}
	require.NoError(t, protocol.Encode(conn, &header, garbage))

	// The next request on the same connection still gets its response.
	resp := sendRequest(t, conn, 31, message.NewEchoRequest([]byte("survived")))
	require.NotNil(t, resp.Echo)
	assert.Equal(t, []byte("survived"), resp.Echo.Payload)
}

func TestMalformedInputDoesNotAffectOtherConnections(t *testing.T) {
	_, addr := startTestServer(t)

	good, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer good.Close()

	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer bad.Close()

	// Undecodable garbage on one connection.
	_, err = bad.Write([]byte("GET / HTTP/1.1\r\nHost: nope\r\n\r\n"))
	require.NoError(t, err)

	// The healthy connection keeps working.
	resp := sendRequest(t, good, 1, message.NewEchoRequest([]byte("unaffected")))
	require.NotNil(t, resp.Echo)
	assert.Equal(t, []byte("unaffected"), resp.Echo.Payload)

	// And the accept loop is still alive.
	fresh, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer fresh.Close()

	resp = sendRequest(t, fresh, 1, message.NewAddRequest(20, 22))
	require.NotNil(t, resp.Add)
	assert.Equal(t, int64(42), resp.Add.Result)
}

func TestStopDrainsAllWorkers(t *testing.T) {
	svr, addr := startTestServer(t)

	// Open several connections mid-exchange.
	const k = 5
	conns := make([]net.Conn, 0, k)
	for i := 0; i < k; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)

		resp := sendRequest(t, conn, uint32(i), message.NewEchoRequest([]byte{byte(i)}))
		require.NotNil(t, resp.Echo)
	}
	require.Equal(t, k, svr.ActiveConnections())

	svr.Stop()

	// Every worker has exited and deregistered.
	assert.Equal(t, 0, svr.ActiveConnections())

	// The workers closed their sockets: reads observe EOF.
	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 1)
		_, err := conn.Read(buf)
		assert.Error(t, err, "connection should be closed after Stop")
	}

	// No new connections are accepted.
	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
		t.Fatal("expect dial to fail after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	svr, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	sendRequest(t, conn, 1, message.NewEchoRequest([]byte("x")))

	svr.Stop()

	// The second call must return immediately: no workers left to join,
	// no grace period slept again.
	start := time.Now()
	svr.Stop()
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	// And via io.Closer too.
	require.NoError(t, svr.Close())
}

func TestStopBeforeServeWins(t *testing.T) {
	svr := NewServer(Config{
		PollInterval: 20 * time.Millisecond,
		GracePeriod:  10 * time.Millisecond,
	}, nil, nil)

	// Stop lands before Serve: the later Serve must not start serving.
	svr.Stop()

	done := make(chan error, 1)
	go func() { done <- svr.Serve("tcp", "127.0.0.1:0") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve kept running despite the prior Stop")
	}
	assert.Nil(t, svr.Addr(), "no listener should remain published")
}

func TestStopLatencyBoundedByPollInterval(t *testing.T) {
	svr, addr := startTestServer(t)

	// An idle connection: its worker is parked in a read with a 20ms
	// deadline. Stop must not take much longer than one poll tick plus
	// the grace period.
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	sendRequest(t, conn, 1, message.NewEchoRequest([]byte("idle after this")))

	start := time.Now()
	svr.Stop()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond,
		"Stop took %v, expected roughly poll interval + grace period", elapsed)
	assert.Equal(t, 0, svr.ActiveConnections())
}

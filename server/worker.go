package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"frame-server/codec"
	"frame-server/message"
	"frame-server/protocol"
)

// worker owns one accepted connection for its whole life. Its loop is
// read → decode → dispatch → encode → write, strictly in order: the
// response goes out in full before the next read.
//
// Every read carries a deadline of one poll interval, so an idle worker
// re-checks the shared running flag at least that often instead of
// blocking forever on a silent peer. The deadline doubles as the yield on
// a quiet connection — there is no busy spin.
type worker struct {
	id      string
	conn    net.Conn
	running *atomic.Bool // shared with the supervisor, read-only here
	done    chan struct{}
	srv     *Server
	logger  *zap.Logger
}

func newWorker(id string, conn net.Conn, srv *Server) *worker {
	return &worker{
		id:      id,
		conn:    conn,
		running: &srv.running,
		done:    make(chan struct{}),
		srv:     srv,
		logger: srv.logger.With(
			zap.String("conn_id", id),
			zap.String("remote", conn.RemoteAddr().String())),
	}
}

// run is the worker goroutine body. On any exit path it closes the
// connection, deregisters itself, and closes its done channel so the
// registry's drain can join it without blocking forever.
func (w *worker) run() {
	defer close(w.done)
	defer w.srv.registry.deregister(w.id)
	defer w.conn.Close()

	fr := protocol.NewReaderLimit(w.conn, w.srv.cfg.MaxBodySize)

	for w.running.Load() {
		w.conn.SetReadDeadline(time.Now().Add(w.srv.cfg.PollInterval))

		header, body, err := fr.ReadFrame()
		if err != nil {
			switch classifyReadError(err) {
			case readTimeout:
				// Poll tick: re-check the flag. The reader keeps any
				// partially-read frame and resumes it on the next pass, so
				// a peer delivering slower than one poll interval loses
				// nothing.
				continue
			case readClosed:
				w.logger.Info("client disconnected")
				return
			case readMalformed:
				// Undecodable bytes poison the stream — frame boundaries
				// are lost, so the connection is closed. Local to this
				// worker, never fatal to the server.
				framesMalformed.Inc()
				w.logger.Warn("malformed frame, closing connection", zap.Error(err))
				return
			default:
				workerErrors.Inc()
				w.logger.Error("worker fatal read error", zap.Error(err))
				return
			}
		}

		// Heartbeats only keep the connection alive, nothing to dispatch.
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		if err := w.handleFrame(header, body); err != nil {
			workerErrors.Inc()
			w.logger.Error("worker fatal write error", zap.Error(err))
			return
		}
	}

	w.logger.Info("worker exiting on shutdown")
}

// handleFrame decodes one request body, runs it through the middleware
// chain, and writes the response with the request's sequence number. A
// body that fails to decode is logged and skipped: the frame boundary is
// intact, so the connection stays usable. Only write failures are
// returned, and those end the worker.
func (w *worker) handleFrame(header *protocol.Header, body []byte) error {
	c := codec.GetCodec(codec.CodecType(header.CodecType))

	req := &message.Request{}
	if err := c.Decode(body, req); err != nil {
		framesMalformed.Inc()
		w.logger.Warn("malformed message body, skipping", zap.Error(err))
		return nil
	}
	framesDecoded.Inc()

	resp := w.srv.handler(context.Background(), req)
	if resp == nil {
		// Empty or unknown request: logged upstream, nothing to write.
		return nil
	}

	out, err := c.Encode(resp)
	if err != nil {
		w.logger.Error("failed to encode response", zap.Stringer("op", resp.Op), zap.Error(err))
		return nil
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq, // same seq as the request
		BodyLen:   uint32(len(out)),
	}

	w.conn.SetWriteDeadline(time.Now().Add(w.srv.cfg.WriteTimeout))
	return protocol.Encode(w.conn, &replyHeader, out)
}

type readErrorKind int

const (
	readFatal readErrorKind = iota
	readTimeout
	readClosed
	readMalformed
)

// classifyReadError sorts a frame-read failure into the worker's exit
// policy: transient timeouts continue the loop, peer closes end it
// quietly, malformed bytes end it with a warning, everything else is a
// fatal I/O error.
func classifyReadError(err error) readErrorKind {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return readTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return readClosed
	}
	if errors.Is(err, protocol.ErrMalformed) {
		return readMalformed
	}
	return readFatal
}

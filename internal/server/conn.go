package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-wyoming/internal/eventstore"
	"github.com/loqalabs/loqa-wyoming/internal/protocol"
	"github.com/loqalabs/loqa-wyoming/internal/synthesis"
	"github.com/loqalabs/loqa-wyoming/internal/wyoming"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type connState int

const (
	stateAwaitingHeader connState = iota
	stateAwaitingData
	stateDispatching
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAwaitingHeader:
		return "awaiting_header"
	case stateAwaitingData:
		return "awaiting_data"
	case stateDispatching:
		return "dispatching"
	default:
		return "closed"
	}
}

// connection owns one accepted socket. It is never shared between goroutines
// other than for Close during server shutdown.
type connection struct {
	id     string
	srv    *Server
	conn   net.Conn
	reader *wyoming.Reader
	writer *wyoming.Writer
	state  connState
	log    *slog.Logger

	writeErr error
}

func newConnection(srv *Server, conn net.Conn) *connection {
	id := uuid.NewString()
	limits := wyoming.Limits{
		MaxLine:    srv.cfg.MaxLineBytes,
		MaxData:    srv.cfg.MaxDataBytes,
		MaxPayload: srv.cfg.MaxPayloadBytes,
	}
	return &connection{
		id:     id,
		srv:    srv,
		conn:   conn,
		reader: wyoming.NewReader(conn, limits),
		writer: wyoming.NewWriter(conn),
		state:  stateAwaitingHeader,
		log: srv.log.With(
			slog.String("connection_id", id),
			slog.String("remote_addr", conn.RemoteAddr().String()),
		),
	}
}

func (c *connection) serve(ctx context.Context) {
	c.srv.metrics.connections.Add(ctx, 1)
	c.log.Info("client connected")
	if c.srv.journal != nil {
		if err := c.srv.journal.AppendSession(ctx, c.id, c.conn.RemoteAddr().String()); err != nil {
			c.log.Warn("failed to journal connection", slog.String("error", err.Error()))
		}
	}
	defer c.close(ctx)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("connection handler panic recovered", slog.String("state", c.state.String()), slog.Any("panic", r))
		}
	}()

	idle := c.srv.cfg.IdleTimeout()
	for {
		c.state = stateAwaitingHeader
		if idle > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				c.logReadError(err)
				return
			}
		}
		header, err := c.reader.ReadHeader()
		if err != nil {
			c.logReadError(err)
			return
		}
		if header.DataLength > 0 {
			c.state = stateAwaitingData
		}
		frame, err := c.reader.ReadBody(header)
		if err != nil {
			c.logReadError(err)
			return
		}

		c.state = stateDispatching
		c.srv.metrics.frame(ctx, "in", header.Type)
		if err := c.dispatch(ctx, wyoming.Decode(frame)); err != nil {
			c.logDispatchError(err)
			return
		}
	}
}

func (c *connection) close(ctx context.Context) {
	c.state = stateClosed
	_ = c.conn.Close()
	c.journal(context.WithoutCancel(ctx), eventstore.TypeConnectionClosed, "", nil)
	c.log.Debug("connection closed")
}

// dispatch handles one event. A returned error closes the connection.
func (c *connection) dispatch(ctx context.Context, ev wyoming.Event) error {
	switch e := ev.(type) {
	case wyoming.Describe:
		c.journal(ctx, eventstore.TypeDescribe, "", nil)
		return c.WriteEvent(c.srv.info())
	case wyoming.Synthesize:
		return c.synthesize(ctx, e)
	case wyoming.Unrecognized:
		if e.Err != nil {
			c.log.Warn("ignoring undecodable event", slog.String("type", e.Name), slog.String("error", e.Err.Error()))
			return nil
		}
		c.log.Info("ignoring unsupported event", slog.String("type", e.Name))
		return nil
	default:
		c.log.Info("ignoring unsupported event", slog.String("type", ev.Type()))
		return nil
	}
}

func (c *connection) synthesize(ctx context.Context, ev wyoming.Synthesize) error {
	voice := ev.VoiceName()
	ctx, span := c.srv.tracer.Start(ctx, "wyoming.synthesize", trace.WithAttributes(
		attribute.String("wyoming.connection_id", c.id),
		attribute.String("tts.voice", voice),
		attribute.Int("tts.characters", len(ev.Text)),
	))
	defer span.End()

	started := time.Now()
	handle, err := c.srv.coordinator.Submit(ctx, ev.Text, voice)
	if errors.Is(err, synthesis.ErrEmptyText) {
		c.log.Warn("synthesize event with empty text, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	id := handle.ID()
	log := c.log.With(slog.String("utterance_id", id))
	span.SetAttributes(attribute.String("tts.utterance_id", id))
	log.Info("synthesizing", slog.Int("characters", len(ev.Text)), slog.String("voice", voice))
	c.journal(ctx, eventstore.TypeSynthesizeRequested, id, []byte(ev.Text))
	c.publish(protocol.UtteranceStatus{UtteranceID: id, Status: protocol.StatusRequested, Voice: voice, Characters: len(ev.Text)})

	result, err := handle.Wait(ctx)
	if err != nil {
		c.srv.coordinator.Abandon(id)
		return fmt.Errorf("await synthesis %s: %w", id, err)
	}
	c.srv.metrics.synthDuration.Record(ctx, time.Since(started).Seconds())

	if result.Err != nil {
		// No audio and no error event is sent; the client only sees silence.
		log.Error("synthesis failed", slog.String("error", result.Err.Error()))
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "synthesis failed")
		c.failed(ctx, id, voice, result.Err)
		return nil
	}

	stats, err := c.srv.streamer.StreamFile(ctx, c, result.Path)
	if err != nil {
		if c.writeErr != nil {
			return err
		}
		log.Error("failed to stream synthesized audio", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		c.failed(ctx, id, voice, err)
		return nil
	}

	c.srv.metrics.utterance(ctx, protocol.StatusStreamed)
	c.srv.metrics.audioBytes.Add(ctx, stats.Bytes)
	log.Info("audio streamed",
		slog.Int("chunks", stats.Chunks),
		slog.Int64("bytes", stats.Bytes),
		slog.Int("rate", stats.Format.SampleRate),
		slog.Duration("elapsed", time.Since(started)))
	c.journal(ctx, eventstore.TypeAudioStreamed, id, nil)
	c.publish(protocol.UtteranceStatus{
		UtteranceID: id,
		Status:      protocol.StatusStreamed,
		Voice:       voice,
		Chunks:      stats.Chunks,
		Bytes:       stats.Bytes,
		SampleRate:  stats.Format.SampleRate,
	})
	return nil
}

func (c *connection) failed(ctx context.Context, id, voice string, err error) {
	c.srv.metrics.utterance(ctx, protocol.StatusFailed)
	c.journal(ctx, eventstore.TypeSynthesizeFailed, id, []byte(err.Error()))
	c.publish(protocol.UtteranceStatus{UtteranceID: id, Status: protocol.StatusFailed, Voice: voice, Error: err.Error()})
}

// WriteEvent writes ev to the client and remembers the first write failure.
func (c *connection) WriteEvent(ev wyoming.Event) error {
	if err := c.writer.WriteEvent(ev); err != nil {
		if c.writeErr == nil {
			c.writeErr = err
		}
		return err
	}
	c.srv.metrics.frame(context.Background(), "out", ev.Type())
	return nil
}

func (c *connection) journal(ctx context.Context, eventType, utteranceID string, payload []byte) {
	if c.srv.journal == nil {
		return
	}
	evt := eventstore.Event{SessionID: c.id, UtteranceID: utteranceID, Type: eventType, Payload: payload}
	if err := c.srv.journal.AppendEvent(ctx, evt); err != nil {
		c.log.Warn("failed to journal event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

func (c *connection) publish(status protocol.UtteranceStatus) {
	if c.srv.publisher == nil {
		return
	}
	status.SessionID = c.id
	status.Timestamp = time.Now().UTC()
	if err := c.srv.publisher.Publish(status); err != nil {
		c.log.Warn("failed to publish utterance status", slog.String("error", err.Error()))
	}
}

func (c *connection) logReadError(err error) {
	state := slog.String("state", c.state.String())
	switch {
	case errors.Is(err, io.EOF):
		c.log.Info("client disconnected", state)
	case errors.Is(err, os.ErrDeadlineExceeded):
		c.log.Info("idle timeout, closing connection", state, slog.Duration("timeout", c.srv.cfg.IdleTimeout()))
	case isPeerClosed(err):
		c.log.Info("connection closed by peer", state, slog.String("error", err.Error()))
	default:
		c.log.Warn("closing connection after read error", state, slog.String("error", err.Error()))
	}
}

func (c *connection) logDispatchError(err error) {
	if isPeerClosed(err) || errors.Is(err, context.Canceled) {
		c.log.Info("connection closed during response", slog.String("error", err.Error()))
		return
	}
	c.log.Error("closing connection after write error", slog.String("error", err.Error()))
}

func isPeerClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

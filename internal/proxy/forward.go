package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/priyanshumishra610/SentinelVNC/internal/event"
	"github.com/priyanshumishra610/SentinelVNC/internal/session"
	"github.com/priyanshumishra610/SentinelVNC/pkg/metrics"
)

// directionLabel gives Prometheus a short, stable label per direction.
func directionLabel(dir event.Direction) string {
	if dir == event.ClientToServer {
		return "client_to_server"
	}
	return "server_to_client"
}

// forward runs one direction's forwarding loop for sess until the
// connection closes, an I/O error occurs, or the session is contained.
// Monitoring (sample append, rule/ML evaluation, alert POST) runs
// synchronously on this goroutine before the chunk is written onward, per
// spec.md §5's "no cross-task queue on the data path" ordering guarantee.
func (p *Proxy) forward(ctx context.Context, dir event.Direction, src, dst net.Conn, sess *session.Session) {
	buf := make([]byte, p.cfg.MaxChunkBytes)

	for {
		if sess.State() == session.Contained {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = src.SetReadDeadline(time.Now().Add(p.cfg.IOTimeout))
		n, err := src.Read(buf)
		if n > 0 {
			p.observeAndForward(ctx, dir, buf[:n], dst, sess)
		}
		if err != nil {
			if isTimeout(err) {
				continue // idle deadline, not a close: loop back and re-check state/ctx
			}
			if errors.Is(err, io.EOF) {
				// Half-close: pass the EOF on to the peer's write side so the
				// opposite direction sees its own EOF once the peer finishes.
				if tc, ok := dst.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.log.Debug().Err(err).Str("session_id", sess.ID).Str("direction", directionLabel(dir)).Msg("read error, closing session")
			return
		}
	}
}

func (p *Proxy) observeAndForward(ctx context.Context, dir event.Direction, chunk []byte, dst net.Conn, sess *session.Session) {
	now := time.Now()
	sample := session.Sample{Timestamp: now, Direction: dir, Bytes: int64(len(chunk))}
	sess.Recent.Append(sample)
	sess.RecordChunk(dir, int64(len(chunk)))
	metrics.BytesForwarded.WithLabelValues(directionLabel(dir)).Add(float64(len(chunk)))

	ev := event.Event{
		SessionID: sess.ID,
		Type:      inferEventType(dir, len(chunk)),
		Direction: dir,
		Timestamp: now,
		Bytes:     int64(len(chunk)),
	}

	verdict := p.engine.Evaluate(ev, sess.Recent, sample, now)
	if verdict.IsAlert {
		action := p.alerter.post(ctx, buildAlertRequest(sess, ev, verdict))
		if action == "contain" || p.cfg.ContainOnAlert {
			if sess.TryContain() {
				metrics.SessionsContained.Inc()
			}
		}
	}

	if sess.State() == session.Contained {
		return
	}
	if err := writeAll(dst, chunk, p.cfg.IOTimeout); err != nil {
		p.log.Debug().Err(err).Str("session_id", sess.ID).Msg("write error, closing session")
		_ = sess.TryContain() // stop forwarding; the peer loop will observe Contained and unwind too
	}
}

// inferEventType is a coarse heuristic-name classifier for the event the
// proxy derived from wire traffic, mirroring the heuristic enum the alert
// payload carries (spec.md §6).
func inferEventType(dir event.Direction, n int) event.Type {
	switch {
	case dir == event.ServerToClient:
		return event.TypeFrameburst
	case n >= 200*1024:
		return event.TypeClipboardCopy
	default:
		return event.TypeFileTransfer
	}
}

// writeAll writes the full buffer to dst, retrying on short writes, bounded
// by a per-write deadline.
func writeAll(dst net.Conn, buf []byte, timeout time.Duration) error {
	total := 0
	for total < len(buf) {
		_ = dst.SetWriteDeadline(time.Now().Add(timeout))
		n, err := dst.Write(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

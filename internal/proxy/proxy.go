// Package proxy implements C6, the Session Proxy: one logical session per
// accepted client TCP connection, a bidirectional byte forwarder with
// interposed monitoring (C1-C5 called synchronously on the data path), and
// the containment half-close protocol.
package proxy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
	"github.com/priyanshumishra610/SentinelVNC/internal/event"
	"github.com/priyanshumishra610/SentinelVNC/internal/session"
	"github.com/priyanshumishra610/SentinelVNC/pkg/metrics"
)

// Config is C6's runtime policy (mirrors pkg/config.Proxy).
type Config struct {
	ListenAddr        string
	ServerAddr        string
	AlertURL          string
	ContainOnAlert    bool
	MaxChunkBytes     int
	ConnectTimeout    time.Duration
	IOTimeout         time.Duration
	AlertTimeout      time.Duration
	ContainChannelPrefix string
}

// DefaultConfig matches pkg/config.Default().Proxy.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        "0.0.0.0:5900",
		ServerAddr:        "localhost:5901",
		AlertURL:          "http://localhost:8000/api/v1/alerts",
		ContainOnAlert:    false,
		MaxChunkBytes:     4096,
		ConnectTimeout:    30 * time.Second,
		IOTimeout:         30 * time.Second,
		AlertTimeout:      5 * time.Second,
		ContainChannelPrefix: "sentinelvnc:contain:",
	}
}

// Proxy runs the accept loop and owns the live Session registry.
type Proxy struct {
	cfg      Config
	engine   *detect.Engine
	sessions *session.Registry
	rdb      *redis.Client
	alerter  *alertPoster
	log      zerolog.Logger
}

// New builds a Proxy. rdb may be nil, in which case externally-triggered
// containment (operator -> C7 -> proxy control channel) is unavailable but
// self-triggered containment (ContainOnAlert) still works.
func New(cfg Config, engine *detect.Engine, rdb *redis.Client, log zerolog.Logger) *Proxy {
	if cfg.ContainChannelPrefix == "" {
		cfg.ContainChannelPrefix = DefaultConfig().ContainChannelPrefix
	}
	return &Proxy{
		cfg:      cfg,
		engine:   engine,
		sessions: session.NewRegistry(),
		rdb:      rdb,
		alerter:  newAlertPoster(cfg.AlertURL, cfg.AlertTimeout),
		log:      log.With().Str("component", "proxy").Logger(),
	}
}

// ListenAndServe binds cfg.ListenAddr and accepts connections until ctx is
// cancelled. It returns the listen error (if any) so main can map it to
// exit code 1 per spec.md §6.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	p.log.Info().Str("listen", p.cfg.ListenAddr).Str("server", p.cfg.ServerAddr).Msg("sentinel-proxy listening")

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
				p.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.handleConn(ctx, conn)
		}()
	}
}

// SessionCount reports the number of live sessions.
func (p *Proxy) SessionCount() int { return p.sessions.Len() }

func (p *Proxy) handleConn(ctx context.Context, clientConn net.Conn) {
	defer clientConn.Close()

	upstream, err := net.DialTimeout("tcp", p.cfg.ServerAddr, p.cfg.ConnectTimeout)
	if err != nil {
		p.log.Warn().Err(err).Str("upstream", p.cfg.ServerAddr).Msg("upstream dial failed, closing client connection")
		return
	}
	defer upstream.Close()

	sess := session.NewSession(clientConn.RemoteAddr().String(), p.cfg.ServerAddr)
	p.sessions.Put(sess)
	metrics.SessionsActive.Inc()
	defer func() {
		sess.Close()
		p.sessions.Delete(sess.ID)
		metrics.SessionsActive.Dec()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.rdb != nil {
		go p.watchContainChannel(connCtx, sess, clientConn, upstream)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.forward(connCtx, event.ClientToServer, clientConn, upstream, sess)
	}()
	go func() {
		defer wg.Done()
		p.forward(connCtx, event.ServerToClient, upstream, clientConn, sess)
	}()
	wg.Wait()
}

func (p *Proxy) watchContainChannel(ctx context.Context, sess *session.Session, clientConn, upstream net.Conn) {
	channel := p.cfg.ContainChannelPrefix + sess.ID
	sub := p.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.log.Info().Str("session_id", sess.ID).Str("channel", msg.Channel).Msg("containment command received")
			if sess.TryContain() {
				metrics.SessionsContained.Inc()
				_ = clientConn.SetDeadline(time.Now())
				_ = upstream.SetDeadline(time.Now())
			}
			return
		}
	}
}

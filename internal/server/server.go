// Package server implements the TCP device gateway.
//
// Each accepted connection is one device stream: the gateway owns one
// message extractor per session, feeds it every chunk the socket
// delivers, and fans the extracted messages out to the configured
// reporters. Serial-to-TCP bridges in front of the devices provide no
// framing guarantees, which is exactly what the extractor is for.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/patrickmn/go-cache"

	"firestige.xyz/siphon/internal/config"
	"firestige.xyz/siphon/internal/core"
	"firestige.xyz/siphon/internal/extractor"
	"firestige.xyz/siphon/internal/metrics"
	"firestige.xyz/siphon/internal/protocol"
	"firestige.xyz/siphon/internal/reporter"
)

const (
	readBufferSize = 4096

	// Device shadows outlive their sessions so operators can inspect
	// recently disconnected devices via the admin endpoints.
	shadowTTL     = 24 * time.Hour
	shadowCleanup = 1 * time.Hour
)

// Session represents one connected device stream.
type Session struct {
	Device      string
	Conn        net.Conn
	ClientIP    string
	ConnectedAt time.Time

	lastActive atomic.Int64 // unix nanos
	messages   atomic.Uint64
	bytesIn    atomic.Uint64
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// shadowEntry is the admin view of a device, kept after disconnect.
type shadowEntry struct {
	Device     string    `json:"device"`
	ClientIP   string    `json:"client_ip"`
	Connected  bool      `json:"connected"`
	LastActive time.Time `json:"last_active"`
	Messages   uint64    `json:"messages"`
	BytesIn    uint64    `json:"bytes_in"`
}

// Gateway accepts device connections and drives one extractor per
// session.
type Gateway struct {
	cfg       *config.Config
	scanner   protocol.Scanner
	adapter   protocol.Adapter
	reporters []reporter.Reporter
	nats      *nats.Conn       // nil = downlink disabled
	registry  *SessionRegistry // nil = redis disabled

	listener net.Listener
	sessions sync.Map // device → *Session
	shadows  *cache.Cache
	nextConn atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a gateway. natsConn and registry are optional; scanner and
// adapter are not.
func New(cfg *config.Config, scanner protocol.Scanner, adapter protocol.Adapter,
	reporters []reporter.Reporter, natsConn *nats.Conn, registry *SessionRegistry) (*Gateway, error) {
	if scanner == nil {
		return nil, core.ErrNoScanner
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: nil adapter", core.ErrConfigInvalid)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:       cfg,
		scanner:   scanner,
		adapter:   adapter,
		reporters: reporters,
		nats:      natsConn,
		registry:  registry,
		shadows:   cache.New(shadowTTL, shadowCleanup),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins accepting device connections.
func (g *Gateway) Start() error {
	listener, err := net.Listen("tcp", g.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.cfg.Listen, err)
	}
	g.listener = listener

	slog.Info("gateway listening", "addr", listener.Addr().String(), "gateway_id", g.cfg.GatewayID)

	g.wg.Add(1)
	go g.acceptLoop()

	if g.nats != nil {
		if err := g.startDownlinkConsumer(); err != nil {
			listener.Close()
			return err
		}
	}

	return nil
}

// Addr returns the bound listener address.
func (g *Gateway) Addr() net.Addr {
	return g.listener.Addr()
}

// Stop closes the listener and all live sessions, then waits for the
// session goroutines to finish.
func (g *Gateway) Stop(ctx context.Context) error {
	g.cancel()
	if g.listener != nil {
		g.listener.Close()
	}
	g.sessions.Range(func(_, value any) bool {
		value.(*Session).Conn.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("gateway stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway shutdown timed out: %w", ctx.Err())
	}
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			select {
			case <-g.ctx.Done():
				return
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		sess := &Session{
			Device:      fmt.Sprintf("%s-%d", g.cfg.GatewayID, g.nextConn.Add(1)),
			Conn:        conn,
			ClientIP:    conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		}
		sess.touch()

		g.wg.Add(1)
		go g.handleConn(sess)
	}
}

func (g *Gateway) handleConn(sess *Session) {
	defer g.wg.Done()
	defer func() {
		g.cleanupSession(sess)
		sess.Conn.Close()
	}()

	slog.Info("device connected", "device", sess.Device, "client_ip", sess.ClientIP)

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	g.sessions.Store(sess.Device, sess)
	g.storeShadow(sess, true)
	if g.registry != nil {
		if err := g.registry.Register(g.ctx, sess.Device, g.cfg.GatewayID, sess.ClientIP); err != nil {
			slog.Warn("failed to register session in redis", "device", sess.Device, "error", err)
		}
	}

	ext := extractor.New(g.scanner, extractor.Config{
		MaxIncompleteRetries: g.cfg.Extractor.MaxIncompleteRetries,
	})
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}

		if g.cfg.ReadTimeout > 0 {
			sess.Conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
		}
		n, err := sess.Conn.Read(buf)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				slog.Warn("read error", "device", sess.Device, "error", err)
			}
			return
		}
		sess.touch()
		sess.bytesIn.Add(uint64(n))

		msgs, status := ext.ProcessNewData(buf[:n])
		switch status {
		case extractor.StatusConfigError:
			slog.Error("extractor has no scanner configured", "device", sess.Device)
			return
		case extractor.StatusOK:
			for _, msg := range msgs {
				g.publish(sess, msg)
			}
			sess.messages.Add(uint64(len(msgs)))
			if g.registry != nil {
				g.registry.Touch(g.ctx, sess.Device)
			}
		case extractor.StatusNoData:
			// Normal while a message is still arriving.
		}

		// The accumulator is unbounded by design; the ceiling and the
		// out-of-band resynchronization live here, with the caller.
		if limit := g.cfg.Extractor.MaxBufferBytes; limit > 0 && ext.BufferedBytes() > limit {
			slog.Warn("buffer ceiling exceeded, resynchronizing stream",
				"device", sess.Device, "buffered", ext.BufferedBytes(), "limit", limit)
			ext.ClearBuffer()
			metrics.BufferResetsTotal.Inc()
		}

		g.storeShadow(sess, true)
	}
}

func (g *Gateway) publish(sess *Session, msg core.Message) {
	env, err := g.adapter.Decode(msg)
	if err != nil {
		// Extraction already validated the frame, so this indicates a
		// scanner/adapter mismatch rather than stream noise.
		slog.Error("failed to decode extracted message", "device", sess.Device, "error", err)
		return
	}
	env.Device = sess.Device
	env.ReceivedAt = time.Now().UnixMilli()

	for _, rep := range g.reporters {
		if err := rep.Report(g.ctx, env); err != nil {
			slog.Warn("reporter delivery failed",
				"reporter", rep.Name(), "device", sess.Device, "error", err)
			continue
		}
		metrics.UplinkMessagesTotal.WithLabelValues(rep.Name()).Inc()
	}
}

func (g *Gateway) cleanupSession(sess *Session) {
	slog.Info("device disconnected",
		"device", sess.Device,
		"messages", sess.messages.Load(),
		"bytes_in", sess.bytesIn.Load())

	g.sessions.Delete(sess.Device)
	g.storeShadow(sess, false)
	if g.registry != nil {
		g.registry.Unregister(context.Background(), sess.Device)
	}
}

func (g *Gateway) storeShadow(sess *Session, connected bool) {
	g.shadows.Set(sess.Device, &shadowEntry{
		Device:     sess.Device,
		ClientIP:   sess.ClientIP,
		Connected:  connected,
		LastActive: time.Unix(0, sess.lastActive.Load()),
		Messages:   sess.messages.Load(),
		BytesIn:    sess.bytesIn.Load(),
	}, cache.DefaultExpiration)
}

// startDownlinkConsumer subscribes to downlink commands addressed to
// this gateway and writes the encoded frames to the device sockets.
func (g *Gateway) startDownlinkConsumer() error {
	subject := fmt.Sprintf("%s.downlink.%s", g.cfg.Reporters.NATS.SubjectPrefix, g.cfg.GatewayID)
	sub, err := g.nats.Subscribe(subject, func(msg *nats.Msg) {
		var cmd core.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			slog.Warn("failed to unmarshal downlink command", "error", err)
			return
		}
		if err := g.SendCommand(cmd); err != nil {
			slog.Warn("failed to deliver downlink command", "device", cmd.Device, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to downlink subject %s: %w", subject, err)
	}

	slog.Info("downlink consumer started", "subject", subject)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		<-g.ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}

// SendCommand encodes cmd and writes it to the addressed device socket.
func (g *Gateway) SendCommand(cmd core.Command) error {
	value, ok := g.sessions.Load(cmd.Device)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDeviceNotFound, cmd.Device)
	}
	sess := value.(*Session)

	frame, err := g.adapter.Encode(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command for %s: %w", cmd.Device, err)
	}
	if _, err := sess.Conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write command to %s: %w", cmd.Device, err)
	}
	metrics.DownlinkCommandsTotal.Inc()
	return nil
}

// HandleHealth is the admin health endpoint.
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "ok",
		"gateway_id": g.cfg.GatewayID,
	})
}

// HandleSessions is the admin endpoint listing known devices, including
// recently disconnected ones still within the shadow TTL.
func (g *Gateway) HandleSessions(w http.ResponseWriter, r *http.Request) {
	entries := make([]*shadowEntry, 0)
	for _, item := range g.shadows.Items() {
		entries = append(entries, item.Object.(*shadowEntry))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

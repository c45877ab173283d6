package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/walletbridge/internal/prompt"
	"github.com/klingon-exchange/walletbridge/internal/provider"
)

var (
	_ prompt.Notifier = (*WSHub)(nil)
	_ provider.Events = (*WSHub)(nil)
)

const (
	// bridgeMaxInflight bounds the concurrent calls of one plugin session.
	bridgeMaxInflight = 16

	bridgeReadLimit = 1 << 20
	bridgePongWait  = 60 * time.Second
)

// errBridgeBusy answers calls beyond bridgeMaxInflight.
var errBridgeBusy = errors.New("too many pending calls")

// BridgeSession is an open plugin bridge connection.
type BridgeSession struct {
	ID        string    `json:"id"`
	PluginID  string    `json:"plugin_id"`
	StartedAt time.Time `json:"started_at"`
}

// bridgeConn serves one plugin over a WebSocket. Calls run concurrently and
// replies are written as they complete.
type bridgeConn struct {
	conn     *websocket.Conn
	provider *provider.Provider
	send     chan []byte
	server   *Server
}

// handleBridge upgrades a plugin connection and serves its bridge calls.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("pluginId")
	plugin, ok := s.config.Plugin(pluginID)
	if !ok {
		http.Error(w, "unknown plugin", http.StatusNotFound)
		return
	}
	if s.wallet == nil {
		http.Error(w, "wallet service not initialized", http.StatusServiceUnavailable)
		return
	}

	deps := provider.Deps{
		Currencies: s.currencies,
		Account:    provider.NewAccount(s.wallet),
		Host:       s.prompts,
		Events:     s.wsHub,
		Device:     provider.DeviceInfo{Name: "walletbridged", Version: s.version},
		Logger:     s.baseLog,
	}
	if s.store != nil {
		deps.Data = s.store
		deps.Tracker = s.store
	}

	p, err := provider.New(plugin, deps)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Bridge upgrade failed", "plugin", pluginID, "error", err)
		return
	}

	bc := &bridgeConn{
		conn:     conn,
		provider: p,
		send:     make(chan []byte, bridgeMaxInflight),
		server:   s,
	}

	s.addSession(p)
	s.log.Info("Plugin bridge opened", "plugin", pluginID, "session", p.SessionID())

	go bc.writePump()
	bc.readPump()

	s.removeSession(p)
	s.log.Info("Plugin bridge closed", "plugin", pluginID, "session", p.SessionID())
}

// readPump reads call frames until the connection closes. Pending calls are
// cancelled on close.
func (c *bridgeConn) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		close(c.send)
	}()

	c.conn.SetReadLimit(bridgeReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(bridgePongWait))
		return nil
	})

	sem := make(chan struct{}, bridgeMaxInflight)
	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug("Bridge read error", "plugin", c.provider.PluginID(), "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(bridgePongWait))

		select {
		case sem <- struct{}{}:
		default:
			c.reply(ctx, provider.Reject(message, errBridgeBusy), time.Now())
			continue
		}
		wg.Add(1)
		go func(message []byte) {
			defer func() {
				<-sem
				wg.Done()
			}()
			c.call(ctx, message)
		}(message)
	}
}

// call runs one bridge call and queues its reply.
func (c *bridgeConn) call(ctx context.Context, message []byte) {
	start := time.Now()
	c.reply(ctx, c.provider.Handle(ctx, message), start)
}

// reply records a finished call and queues its envelope.
func (c *bridgeConn) reply(ctx context.Context, reply *provider.Reply, start time.Time) {
	c.server.metrics.observeBridge(funcLabel(reply.Func), start, reply.Err != nil)

	data, err := json.Marshal(reply)
	if err != nil {
		msg := "failed to encode result: " + err.Error()
		data, _ = json.Marshal(&provider.Reply{CBID: reply.CBID, Func: reply.Func, Err: &msg})
	}

	select {
	case c.send <- data:
	case <-ctx.Done():
	}
}

// writePump writes replies, one envelope per frame.
func (c *bridgeConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var knownFuncs = func() map[string]bool {
	m := make(map[string]bool)
	for _, fn := range provider.Funcs() {
		m[fn] = true
	}
	return m
}()

// funcLabel keeps metric label cardinality bounded.
func funcLabel(fn string) string {
	if knownFuncs[fn] {
		return fn
	}
	return "unknown"
}

func (s *Server) addSession(p *provider.Provider) {
	s.sessionMu.Lock()
	s.sessions[p.SessionID()] = &BridgeSession{
		ID:        p.SessionID(),
		PluginID:  p.PluginID(),
		StartedAt: time.Now(),
	}
	s.sessionMu.Unlock()
	s.metrics.BridgeSessions.Inc()
}

func (s *Server) removeSession(p *provider.Provider) {
	s.sessionMu.Lock()
	delete(s.sessions, p.SessionID())
	s.sessionMu.Unlock()
	s.metrics.BridgeSessions.Dec()
}

// Sessions returns the open bridge sessions.
func (s *Server) Sessions() []*BridgeSession {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	out := make([]*BridgeSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

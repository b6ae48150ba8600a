package appwrite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atinyakov/HabitKeeper/internal/models"
)

const (
	defaultReconnectEvery = time.Second
	defaultPingInterval   = 20 * time.Second
	writeTimeout          = 5 * time.Second
)

// RealtimeConfig configures the realtime side of the gateway.
type RealtimeConfig struct {
	// Dialer opens websocket connections. If nil, a dialer with a 10s
	// handshake timeout is used.
	Dialer *websocket.Dialer
	// ReconnectEvery paces reconnect attempts after a dropped connection.
	ReconnectEvery time.Duration
	// PingInterval is how often a heartbeat is sent.
	PingInterval time.Duration
	// Logger is used for structured logging. If nil, the client's logger is used.
	Logger *zap.Logger
}

// Realtime opens change-event subscriptions on the gateway.
type Realtime struct {
	client         *Client
	dialer         *websocket.Dialer
	reconnectEvery time.Duration
	pingInterval   time.Duration
	log            *zap.Logger
}

// Realtime returns the realtime side of the gateway sharing the client's
// project and session.
func (c *Client) Realtime(cfg RealtimeConfig) *Realtime {
	r := &Realtime{
		client:         c,
		dialer:         cfg.Dialer,
		reconnectEvery: cfg.ReconnectEvery,
		pingInterval:   cfg.PingInterval,
		log:            cfg.Logger,
	}
	if r.dialer == nil {
		r.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if r.reconnectEvery <= 0 {
		r.reconnectEvery = defaultReconnectEvery
	}
	if r.pingInterval <= 0 {
		r.pingInterval = defaultPingInterval
	}
	if r.log == nil {
		r.log = c.log
	}
	return r
}

// realtimeURL converts the REST endpoint into the websocket endpoint.
func (r *Realtime) realtimeURL(channel string) (string, error) {
	u, err := url.Parse(r.client.baseURL)
	if err != nil {
		return "", fmt.Errorf("appwrite: invalid endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	q := url.Values{}
	q.Set("project", r.client.projectID)
	q.Add("channels[]", channel)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe connects to channel and calls handler for every change event
// until the returned subscription is closed or ctx ends. The first
// connection is made synchronously so connection errors are returned;
// later drops are reconnected in the background.
//
// handler is called from the subscription's reader goroutine and must not
// block for long.
func (r *Realtime) Subscribe(ctx context.Context, channel string, handler func(models.ChangeEvent)) (*Subscription, error) {
	target, err := r.realtimeURL(channel)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		realtime: r,
		target:   target,
		channel:  channel,
		handler:  handler,
		ctx:      subCtx,
		cancel:   cancel,
		limiter:  rate.NewLimiter(rate.Every(r.reconnectEvery), 1),
		done:     make(chan struct{}),
	}

	conn, err := s.dial()
	if err != nil {
		cancel()
		return nil, err
	}

	go s.run(conn)

	r.log.Info("realtime subscribed", zap.String("channel", channel))
	return s, nil
}

// Subscription is one live realtime channel subscription.
type Subscription struct {
	realtime *Realtime
	target   string
	channel  string
	handler  func(models.ChangeEvent)

	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// Close ends the subscription and waits for its goroutines. It is safe to
// call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		<-s.done
		s.realtime.log.Info("realtime unsubscribed", zap.String("channel", s.channel))
	})
	return nil
}

func (s *Subscription) dial() (*websocket.Conn, error) {
	conn, _, err := s.realtime.dialer.DialContext(s.ctx, s.target, nil)
	if err != nil {
		return nil, fmt.Errorf("appwrite: realtime dial: %w", err)
	}

	if secret := s.realtime.client.sessionSecret(); secret != "" {
		auth := outgoingMessage{Type: "authentication", Data: map[string]string{"session": secret}}
		if err := s.write(conn, auth); err != nil {
			conn.Close()
			return nil, fmt.Errorf("appwrite: realtime authentication: %w", err)
		}
	}
	return conn, nil
}

func (s *Subscription) run(conn *websocket.Conn) {
	defer close(s.done)

	for {
		err := s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.realtime.log.Warn("realtime connection lost", zap.String("channel", s.channel), zap.Error(err))

		for {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
			conn, err = s.dial()
			if err == nil {
				s.realtime.log.Info("realtime reconnected", zap.String("channel", s.channel))
				break
			}
			if s.ctx.Err() != nil {
				return
			}
			s.realtime.log.Warn("realtime reconnect failed", zap.Error(err))
		}
	}
}

// serve reads from conn until it fails or the subscription is closed.
func (s *Subscription) serve(conn *websocket.Conn) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return s.ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	go s.heartbeat(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *Subscription) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.realtime.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.write(conn, outgoingMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *Subscription) write(conn *websocket.Conn, msg outgoingMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (s *Subscription) dispatch(data []byte) {
	var msg incomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.realtime.log.Warn("realtime: undecodable message", zap.Error(err))
		return
	}

	switch msg.Type {
	case "event":
		event, err := decodeEvent(msg.Data)
		if err != nil {
			s.realtime.log.Warn("realtime: undecodable event", zap.Error(err))
			return
		}
		s.handler(event)
	case "error":
		var e struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Data, &e)
		s.realtime.log.Warn("realtime: gateway error", zap.Int("code", e.Code), zap.String("message", e.Message))
	case "connected", "response", "pong":
		s.realtime.log.Debug("realtime: control message", zap.String("type", msg.Type))
	default:
		s.realtime.log.Debug("realtime: ignored message", zap.String("type", msg.Type))
	}
}

type outgoingMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type incomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type eventData struct {
	Events    []string        `json:"events"`
	Channels  []string        `json:"channels"`
	Timestamp json.RawMessage `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// decodeEvent converts the event envelope into a ChangeEvent. The kind is
// left unclassified; the realtime bridge owns classification.
func decodeEvent(raw json.RawMessage) (models.ChangeEvent, error) {
	var data eventData
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.ChangeEvent{}, err
	}

	event := models.ChangeEvent{
		Events:    data.Events,
		Channels:  data.Channels,
		Timestamp: parseTimestamp(data.Timestamp),
	}

	if len(data.Payload) == 0 || string(data.Payload) == "null" {
		return event, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data.Payload, &fields); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("payload: %w", err)
	}
	if len(fields) == 0 {
		return event, nil
	}
	if owner, ok := fields[ownerAttribute]; ok {
		event.HasOwner = true
		_ = json.Unmarshal(owner, &event.OwnerID)
	}

	var row models.Habit
	if err := json.Unmarshal(data.Payload, &row); err == nil {
		event.Row = &row
	}
	return event, nil
}

// parseTimestamp accepts RFC 3339 strings, "2006-01-02 15:04:05.000"
// strings and unix seconds.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.000", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	if secs, err := strconv.ParseFloat(string(raw), 64); err == nil {
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
	}
	return time.Time{}
}

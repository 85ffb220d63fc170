package okx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"okx_connector/internal/core"
	pkgws "okx_connector/pkg/websocket"
)

// StreamEvent is one routed data message from the private WebSocket
type StreamEvent struct {
	Channel string
	Data    json.RawMessage
}

// wsMessage covers both control frames and channel data pushes
type wsMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

// UserStream connects to the private WebSocket, authenticates,
// subscribes to the account channels and exposes routed data events in
// arrival order.
type UserStream struct {
	url    string
	auth   *Auth
	logger core.ILogger

	client *pkgws.Client
	events chan StreamEvent

	stopMu  sync.RWMutex
	stopped bool
}

// NewUserStream creates a UserStream
func NewUserStream(url string, auth *Auth, logger core.ILogger) *UserStream {
	if url == "" {
		url = DefaultWSPrivateURL
	}
	return &UserStream{
		url:    url,
		auth:   auth,
		logger: logger.WithField("component", "user_stream"),
		events: make(chan StreamEvent, 256),
	}
}

// Events returns the ordered stream of routed data messages. The channel
// closes when Run returns.
func (s *UserStream) Events() <-chan StreamEvent {
	return s.events
}

// Run connects and pumps events until ctx is canceled
func (s *UserStream) Run(ctx context.Context) error {
	s.client = pkgws.NewClient(s.url, s.handleMessage, s.logger)
	s.client.SetOnConnected(s.login)
	// The venue drops idle connections after 30s and answers an
	// application-level "ping" with a text "pong".
	s.client.SetTextHeartbeat("ping")
	s.client.SetPingConfig(20*time.Second, 5*time.Second, 30*time.Second)

	s.client.Start()
	<-ctx.Done()
	s.client.Stop()

	// Stop waits for the read goroutine but gives up after a timeout, so
	// a straggler handleMessage may still run. Flip the stopped flag under
	// the lock before closing so a late publish cannot hit a closed channel.
	s.stopMu.Lock()
	s.stopped = true
	s.stopMu.Unlock()
	close(s.events)
	return ctx.Err()
}

// login authenticates the fresh connection. Subscriptions are sent once
// the venue acknowledges the login.
func (s *UserStream) login() {
	payload := map[string]interface{}{
		"op":   "login",
		"args": []map[string]string{s.auth.WSLoginArgs()},
	}
	if err := s.client.Send(payload); err != nil {
		s.logger.Error("WebSocket login send failed", "error", err)
	}
}

// subscribe registers the account channels
func (s *UserStream) subscribe() {
	args := []map[string]string{
		{"channel": ChannelOrders, "instType": InstTypeSwap},
		{"channel": ChannelPositions, "instType": InstTypeSwap},
		{"channel": ChannelFills, "instType": InstTypeSwap},
		{"channel": ChannelAccount},
	}
	payload := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	if err := s.client.Send(payload); err != nil {
		s.logger.Error("WebSocket subscribe send failed", "error", err)
	}
}

func (s *UserStream) handleMessage(message []byte) {
	// The venue answers client pings with a bare "pong".
	if string(message) == "pong" {
		return
	}

	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Warn("Unparseable WebSocket message dropped", "error", err)
		return
	}

	switch msg.Event {
	case "login":
		if msg.Code != "" && msg.Code != RetCodeOK {
			s.logger.Error("WebSocket login rejected", "code", msg.Code, "msg", msg.Msg)
			return
		}
		s.logger.Info("WebSocket authenticated")
		s.subscribe()
		return
	case "subscribe":
		s.logger.Debug("Channel subscribed", "channel", msg.Arg.Channel)
		return
	case "error":
		s.logger.Error("WebSocket error frame", "code", msg.Code, "msg", msg.Msg)
		return
	}

	if msg.Arg.Channel == "" || len(msg.Data) == 0 {
		return
	}

	s.publish(StreamEvent{Channel: msg.Arg.Channel, Data: msg.Data})
}

// publish hands an event to the consumer without blocking the read loop.
// Events arriving after shutdown are dropped.
func (s *UserStream) publish(ev StreamEvent) {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped {
		s.logger.Debug("Event after shutdown dropped", "channel", ev.Channel)
		return
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("User stream buffer full, event dropped", "channel", ev.Channel)
	}
}

package marketfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/openalgo-bridge/internal/apierr"
	"github.com/aristath/openalgo-bridge/internal/domain"
)

// Authenticator validates the api key carried on the first WS frame
// and reports the broker to subscribe against.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (userID, broker string, err error)
}

// Proxy is the external WS client handler described in spec §4.4: the
// first message must be {action:"authenticate", api_key}; subsequent
// messages are subscribe/unsubscribe only.
type Proxy struct {
	registry *Registry
	auth     Authenticator
	log      zerolog.Logger
}

func NewProxy(registry *Registry, auth Authenticator, log zerolog.Logger) *Proxy {
	return &Proxy{registry: registry, auth: auth, log: log.With().Str("component", "marketfeed_proxy").Logger()}
}

type clientFrame struct {
	Action     string `json:"action"`
	APIKey     string `json:"api_key,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	Exchange   string `json:"exchange,omitempty"`
	Mode       int    `json:"mode,omitempty"`
	DepthLevel int    `json:"depth_level,omitempty"`
}

type serverFrame struct {
	Type        string      `json:"type"`
	Status      string      `json:"status"`
	Topic       string      `json:"topic,omitempty"`
	Mode        int         `json:"mode,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	ActualDepth int         `json:"actual_depth,omitempty"`
	IsFallback  bool        `json:"is_fallback,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// ServeHTTP upgrades the connection and drives the authenticate →
// subscribe/unsubscribe protocol until the client disconnects.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		p.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "proxy closing")

	ctx := r.Context()

	userID, broker, ok := p.authenticate(ctx, conn)
	if !ok {
		return
	}

	session := newClientSession(ctx, conn, p.registry, userID, broker, p.log)
	session.run()
}

func (p *Proxy) authenticate(ctx context.Context, conn *websocket.Conn) (userID, broker string, ok bool) {
	var first clientFrame
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := wsjson.Read(readCtx, conn, &first); err != nil {
		p.rejectAuth(ctx, conn)
		return "", "", false
	}
	if first.Action != "authenticate" || first.APIKey == "" {
		p.rejectAuth(ctx, conn)
		return "", "", false
	}

	userID, broker, err := p.auth.Authenticate(ctx, first.APIKey)
	if err != nil {
		p.rejectAuth(ctx, conn)
		return "", "", false
	}

	_ = wsjson.Write(ctx, conn, serverFrame{Type: "auth", Status: "ok"})
	return userID, broker, true
}

func (p *Proxy) rejectAuth(ctx context.Context, conn *websocket.Conn) {
	_ = wsjson.Write(ctx, conn, serverFrame{
		Type:      "auth",
		Status:    "error",
		ErrorKind: string(apierr.AuthenticationRequired),
		Message:   "first message must be {action: \"authenticate\", api_key}",
	})
	conn.Close(websocket.StatusPolicyViolation, "authentication required")
}

// clientSession tracks one authenticated client's active
// subscriptions so Unsubscribe and disconnect cleanup know what to
// release from the underlying hub.
type clientSession struct {
	ctx      context.Context
	conn     *websocket.Conn
	registry *Registry
	userID   string
	broker   string
	log      zerolog.Logger

	active map[subKey]<-chan domain.Tick
}

func newClientSession(ctx context.Context, conn *websocket.Conn, registry *Registry, userID, broker string, log zerolog.Logger) *clientSession {
	return &clientSession{
		ctx: ctx, conn: conn, registry: registry, userID: userID, broker: broker,
		log:    log.With().Str("user_id", userID).Logger(),
		active: make(map[subKey]<-chan domain.Tick),
	}
}

func (s *clientSession) run() {
	defer s.cleanup()
	for {
		var frame clientFrame
		if err := wsjson.Read(s.ctx, s.conn, &frame); err != nil {
			return
		}
		switch frame.Action {
		case "subscribe":
			s.handleSubscribe(frame)
		case "unsubscribe":
			s.handleUnsubscribe(frame)
		default:
			_ = wsjson.Write(s.ctx, s.conn, serverFrame{Type: "error", Status: "error", Message: "unknown action"})
		}
	}
}

func (s *clientSession) handleSubscribe(frame clientFrame) {
	hub, err := s.registry.HubFor(s.ctx, s.userID, s.broker)
	if err != nil {
		_ = wsjson.Write(s.ctx, s.conn, serverFrame{Type: "subscribe", Status: "error", Message: err.Error()})
		return
	}

	sub := domain.Subscription{
		UserID:     s.userID,
		Symbol:     frame.Symbol,
		Exchange:   domain.Exchange(frame.Exchange),
		Mode:       domain.SubscriptionMode(frame.Mode),
		DepthLevel: domain.DepthLevel(frame.DepthLevel),
	}

	ch, actualDepth, isFallback, err := hub.Subscribe(s.ctx, sub)
	if err != nil {
		_ = wsjson.Write(s.ctx, s.conn, serverFrame{Type: "subscribe", Status: "error", Message: err.Error()})
		return
	}

	key := keyFor(sub.Symbol, sub.Exchange, sub.Mode)
	s.active[key] = ch

	_ = wsjson.Write(s.ctx, s.conn, serverFrame{
		Type: "subscribe", Status: "ok",
		Topic: topicFor(sub), Mode: int(sub.Mode),
		ActualDepth: int(actualDepth), IsFallback: isFallback,
	})

	go s.forward(sub, ch)
}

func (s *clientSession) handleUnsubscribe(frame clientFrame) {
	sub := domain.Subscription{
		UserID:   s.userID,
		Symbol:   frame.Symbol,
		Exchange: domain.Exchange(frame.Exchange),
		Mode:     domain.SubscriptionMode(frame.Mode),
	}
	key := keyFor(sub.Symbol, sub.Exchange, sub.Mode)
	ch, ok := s.active[key]
	if !ok {
		_ = wsjson.Write(s.ctx, s.conn, serverFrame{Type: "unsubscribe", Status: "error", Message: "not subscribed"})
		return
	}
	delete(s.active, key)

	hub, err := s.registry.HubFor(s.ctx, s.userID, s.broker)
	if err == nil {
		_ = hub.Unsubscribe(s.ctx, sub, ch)
	}
	_ = wsjson.Write(s.ctx, s.conn, serverFrame{Type: "unsubscribe", Status: "ok", Topic: topicFor(sub)})
}

func (s *clientSession) forward(sub domain.Subscription, ch <-chan domain.Tick) {
	for tick := range ch {
		payload, err := json.Marshal(tick)
		if err != nil {
			continue
		}
		var raw interface{}
		_ = json.Unmarshal(payload, &raw)
		frame := serverFrame{Type: "market_data", Mode: int(sub.Mode), Topic: topicFor(sub), Data: raw}
		if err := wsjson.Write(s.ctx, s.conn, frame); err != nil {
			return
		}
	}
}

func (s *clientSession) cleanup() {
	for key, ch := range s.active {
		hub, err := s.registry.HubFor(s.ctx, s.userID, s.broker)
		if err == nil {
			sub := domain.Subscription{UserID: s.userID, Symbol: key.Symbol, Exchange: key.Exchange, Mode: key.Mode}
			_ = hub.Unsubscribe(s.ctx, sub, ch)
		}
	}
}

func topicFor(sub domain.Subscription) string {
	return sub.Symbol + "." + string(sub.Exchange) + "." + modeSuffix(sub.Mode)
}

func modeSuffix(mode domain.SubscriptionMode) string {
	switch mode {
	case domain.ModeLTP:
		return "ltp"
	case domain.ModeQuote:
		return "quote"
	case domain.ModeDepth:
		return "depth"
	default:
		return "unknown"
	}
}

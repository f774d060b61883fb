// Package presence keeps realtime clients in sync with their game. It
// tracks who is connected to each game room, debounces departures and fans
// bus events out to every connection in the room.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"melodyquest/auth"
	"melodyquest/quiz/bus"
	"melodyquest/quiz/errs"
	"melodyquest/quiz/events"
)

type Options struct {
	Secret     []byte
	Grace      time.Duration
	PingPeriod time.Duration
	PongWait   time.Duration
	SendBuffer int
	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(r *http.Request) bool
}

type pendingLeave struct {
	gen   uint64
	timer *time.Timer
}

// room is guarded by its own mutex. Gateway.mu is always taken first.
type room struct {
	mu      sync.Mutex
	conns   map[*Session]struct{}
	refs    map[uint]int
	pending map[uint]pendingLeave
}

func newRoom() *room {
	return &room{
		conns:   make(map[*Session]struct{}),
		refs:    make(map[uint]int),
		pending: make(map[uint]pendingLeave),
	}
}

func (r *room) empty() bool {
	return len(r.conns) == 0 && len(r.refs) == 0 && len(r.pending) == 0
}

func (r *room) broadcast(msg []byte) {
	for s := range r.conns {
		s.enqueue(msg)
	}
}

type Gateway struct {
	opts     Options
	sessions SessionStore
	logger   *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
	gen      atomic.Uint64

	mu    sync.Mutex
	rooms map[uint]*room
}

func NewGateway(opts Options, sessions SessionStore, logger *zap.Logger) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Gateway{
		opts:     opts,
		sessions: sessions,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		rooms: make(map[uint]*room),
	}
}

// Authenticate validates a handshake and checks its proof token.
func (g *Gateway) Authenticate(hello HelloPayload) error {
	if err := g.validate.Struct(hello); err != nil {
		return &errs.Error{Kind: errs.KindValidation, Code: "INVALID_PAYLOAD", Message: err.Error()}
	}
	if !auth.VerifyProof(g.opts.Secret, hello.UserID, hello.Username, hello.Token) {
		return &errs.Error{Kind: errs.KindInvalidToken, Code: string(errs.KindInvalidToken), Message: "proof token does not match"}
	}
	return nil
}

// attach adds a verified session to its room. PLAYER_JOINED is broadcast
// when the user had no other connection and was not within the grace
// period of a previous one.
func (g *Gateway) attach(s *Session) (announced bool) {
	g.mu.Lock()
	r, ok := g.rooms[s.GameID]
	if !ok {
		r = newRoom()
		g.rooms[s.GameID] = r
	}
	r.mu.Lock()
	g.mu.Unlock()
	defer r.mu.Unlock()

	r.conns[s] = struct{}{}
	r.refs[s.UserID]++

	reconnected := false
	if p, ok := r.pending[s.UserID]; ok {
		p.timer.Stop()
		delete(r.pending, s.UserID)
		reconnected = true
	}
	if r.refs[s.UserID] == 1 && !reconnected {
		g.broadcast(r, events.PlayerJoined{GameID: s.GameID, UserID: s.UserID, Username: s.Username})
		return true
	}
	return false
}

// detach removes a session. When the user's last connection goes away a
// departure is scheduled after the grace period.
func (g *Gateway) detach(s *Session) {
	g.mu.Lock()
	r, ok := g.rooms[s.GameID]
	if !ok {
		g.mu.Unlock()
		return
	}
	r.mu.Lock()
	g.mu.Unlock()
	defer r.mu.Unlock()

	if _, ok := r.conns[s]; !ok {
		return
	}
	delete(r.conns, s)
	r.refs[s.UserID]--
	if r.refs[s.UserID] > 0 {
		return
	}
	delete(r.refs, s.UserID)

	gameID, userID := s.GameID, s.UserID
	gen := g.gen.Add(1)
	if p, ok := r.pending[userID]; ok {
		p.timer.Stop()
	}
	r.pending[userID] = pendingLeave{
		gen:   gen,
		timer: time.AfterFunc(g.opts.Grace, func() { g.expire(gameID, userID, gen) }),
	}
}

// expire announces the departure unless the pending leave was cancelled or
// replaced since the timer was armed.
func (g *Gateway) expire(gameID, userID uint, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[gameID]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[userID]
	if !ok || p.gen != gen {
		return
	}
	delete(r.pending, userID)
	if r.refs[userID] == 0 {
		g.broadcast(r, events.PlayerLeft{GameID: gameID, UserID: userID})
		g.logger.Info("Player left", zap.Uint("gameID", gameID), zap.Uint("userID", userID))
	}
	if r.empty() {
		delete(g.rooms, gameID)
	}
}

// Dispatch forwards a bus message to every connection in the game's room.
func (g *Gateway) Dispatch(msg bus.Message) {
	gameID, ok := events.ParseChannel(msg.Channel)
	if !ok {
		g.logger.Warn("Unsupported channel", zap.String("channel", msg.Channel))
		return
	}

	g.mu.Lock()
	r, ok := g.rooms[gameID]
	if !ok {
		g.mu.Unlock()
		return
	}
	r.mu.Lock()
	g.mu.Unlock()
	defer r.mu.Unlock()

	g.broadcast(r, msg.Event)
}

// broadcast must be called with r.mu held.
func (g *Gateway) broadcast(r *room, ev events.Event) {
	payload, err := encodeEvent(ev)
	if err != nil {
		g.logger.Error("Failed to encode event", zap.Error(err))
		return
	}
	r.broadcast(payload)
}

func encodeEvent(ev events.Event) ([]byte, error) {
	switch ev.(type) {
	case events.RoundStarted, events.RoundSolved, events.ScoreUpdated,
		events.PlayerJoined, events.PlayerLeft, events.GameEnded:
		return json.Marshal(outbound{Event: ev.Name(), Data: ev})
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

// Online returns the users connected to a game on any instance. Users on
// this instance who are within their grace period are included.
func (g *Gateway) Online(ctx context.Context, gameID uint) ([]uint, error) {
	users := g.localOnline(gameID)
	remote, err := g.sessions.Online(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("list sessions of game %d: %w", gameID, err)
	}
	users = append(users, remote...)
	slices.Sort(users)
	return slices.Compact(users), nil
}

func (g *Gateway) localOnline(gameID uint) []uint {
	g.mu.Lock()
	r, ok := g.rooms[gameID]
	if !ok {
		g.mu.Unlock()
		return []uint{}
	}
	r.mu.Lock()
	g.mu.Unlock()
	defer r.mu.Unlock()

	users := make([]uint, 0, len(r.refs)+len(r.pending))
	for id := range r.refs {
		users = append(users, id)
	}
	for id := range r.pending {
		if r.refs[id] == 0 {
			users = append(users, id)
		}
	}
	slices.Sort(users)
	return users
}

// Close cancels pending departures and disconnects every session.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, r := range g.rooms {
		r.mu.Lock()
		for _, p := range r.pending {
			p.timer.Stop()
		}
		for s := range r.conns {
			s.close()
		}
		r.mu.Unlock()
		delete(g.rooms, id)
	}
}

// ServeWS upgrades the request, runs the join handshake and then serves the
// connection until either side goes away.
func (g *Gateway) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := g.upgrader.Upgrade(w, req, nil)
	if err != nil {
		g.logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	hello, err := g.handshake(conn, req)
	if err != nil {
		g.rejectHello(conn, err)
		return
	}

	s := newSession(conn, g.opts.SendBuffer)
	s.ID = uuid.NewString()
	s.GameID = hello.GameID
	s.UserID = hello.UserID
	s.Username = hello.Username

	ctx := context.WithoutCancel(req.Context())
	if err := g.sessions.Save(ctx, s.ID, SessionInfo{
		GameID:      s.GameID,
		UserID:      s.UserID,
		Username:    s.Username,
		ConnectedAt: time.Now(),
	}); err != nil {
		g.logger.Warn("Failed to store session", zap.String("sessionID", s.ID), zap.Error(err))
	}
	defer func() {
		if err := g.sessions.Delete(ctx, s.ID); err != nil {
			g.logger.Warn("Failed to delete session", zap.String("sessionID", s.ID), zap.Error(err))
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(outbound{Event: "hello:ok", Data: helloOK{SessionID: s.ID, GameID: s.GameID, UserID: s.UserID}}); err != nil {
		return
	}

	go s.writePump(g.opts.PingPeriod)
	defer s.close()

	g.attach(s)
	defer g.detach(s)
	g.logger.Info("Player connected",
		zap.Uint("gameID", s.GameID), zap.Uint("userID", s.UserID), zap.String("sessionID", s.ID))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Info("WebSocket closed", zap.Uint("userID", s.UserID), zap.Error(err))
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "hello" {
			continue
		}
		g.logger.Debug("Ignoring client message", zap.String("event", msg.Event))
	}
}

func (g *Gateway) handshake(conn *websocket.Conn, req *http.Request) (HelloPayload, error) {
	hello, ok := helloFromQuery(req.URL.Query())
	if !ok {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return hello, err
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event != "hello" {
			return hello, &errs.Error{Kind: errs.KindValidation, Code: "INVALID_PAYLOAD", Message: "expected a hello message"}
		}
		if err := json.Unmarshal(msg.Data, &hello); err != nil {
			return hello, &errs.Error{Kind: errs.KindValidation, Code: "INVALID_PAYLOAD", Message: err.Error()}
		}
	}
	return hello, g.Authenticate(hello)
}

func (g *Gateway) rejectHello(conn *websocket.Conn, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		// The connection failed before a handshake arrived.
		return
	}
	g.logger.Warn("Realtime handshake rejected", zap.String("code", e.Code))
	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(outbound{Event: "hello:error", Data: helloError{Message: e.Code, Details: e.Message}})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, e.Code), deadline)
}

package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"melodyquest/quiz/bus"
	"melodyquest/quiz/errs"
	"melodyquest/quiz/events"
)

const (
	internalTokenHeader = "X-Internal-Token"

	// 30 requests per minute per client.
	broadcastRate  = rate.Limit(30.0 / 60.0)
	broadcastBurst = 30
)

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// internalAuth hides the internal routes unless an admin token is
// configured, and then requires it in X-Internal-Token.
func (s *server) internalAuth() gin.HandlerFunc {
	token := []byte(s.Config.AdminToken)
	return func(c *gin.Context) {
		if len(token) == 0 {
			fail(c, http.StatusNotFound, string(errs.KindNotFound), "not enabled")
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader(internalTokenHeader)), token) != 1 {
			fail(c, http.StatusUnauthorized, string(errs.KindInvalidToken), "internal token does not match")
			return
		}
		c.Next()
	}
}

func (s *server) rateLimit(l *ipLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			fail(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

type broadcastRequest struct {
	Channel string          `json:"channel" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// broadcast delivers an event to the clients of one game connected to this
// instance, bypassing the bus.
func (s *server) broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	gameID, ok := events.ParseChannel(req.Channel)
	if !ok {
		fail(c, http.StatusUnprocessableEntity, string(errs.KindValidation), "channel must be game:<id>")
		return
	}
	ev, err := events.Decode(req.Payload)
	if err != nil {
		invalidRequest(c, err)
		return
	}

	s.Realtime.Dispatch(bus.Message{Channel: req.Channel, Event: ev})
	s.Logger.Info("Internal broadcast",
		zap.Uint("gameID", gameID), zap.String("type", string(ev.Type())))
	respond(c, http.StatusOK, gin.H{"channel": req.Channel, "type": ev.Type()})
}

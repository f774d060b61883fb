package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"melodyquest/auth"
	"melodyquest/database"
	"melodyquest/internal/keylock"
	"melodyquest/internal/testdb"
	"melodyquest/models"
	"melodyquest/quiz/bus"
	"melodyquest/quiz/events"
	"melodyquest/quiz/game"
	"melodyquest/quiz/guess"
	"melodyquest/quiz/presence"
)

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type testServer struct {
	router     *gin.Engine
	config     models.Config
	realtime   *recordingRealtime
	categories []uint
	titles     map[uint]string
}

// recordingRealtime remembers what was dispatched through the router.
type recordingRealtime struct {
	*presence.Gateway

	mu         sync.Mutex
	dispatched []bus.Message
}

func (r *recordingRealtime) Dispatch(msg bus.Message) {
	r.mu.Lock()
	r.dispatched = append(r.dispatched, msg)
	r.mu.Unlock()
	r.Gateway.Dispatch(msg)
}

func (r *recordingRealtime) messages() []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.dispatched)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	db := testdb.Open(t)

	rock := testdb.Category(t, db, "Rock")
	titles := map[uint]string{}
	for _, title := range []string{"Bohemian Rhapsody", "Hotel California", "Back in Black"} {
		tr := testdb.Track(t, db, rock.ID, title, title)
		titles[tr.ID] = title
	}

	config := models.Config{
		AppEnv:             "test",
		JWTSecret:          "jwt-secret",
		JWTTTL:             72 * time.Hour,
		RealtimeHMACSecret: "proof-secret",
		AdminToken:         "admin-token",
	}
	catalog := database.NewCatalog(db)
	users := database.NewUsers(db)
	b := bus.NewMemoryBus(logger)
	t.Cleanup(func() { _ = b.Close() })
	locks := &keylock.Map{}
	gateway := presence.NewGateway(presence.Options{
		Secret:     []byte(config.RealtimeHMACSecret),
		Grace:      time.Second,
		PingPeriod: time.Second,
		PongWait:   2 * time.Second,
	}, presence.NewMemorySessions(), logger)
	t.Cleanup(gateway.Close)
	realtime := &recordingRealtime{Gateway: gateway}

	router := NewRouter(Deps{
		Config:   config,
		Users:    users,
		Games:    game.NewOrchestrator(db, catalog, users, b, locks, models.ScoringRules{BasePoints: 1, FirstBloodBonus: 1, StreakLength: 3, StreakBonus: 1}, logger),
		Guesses:  guess.NewResolver(db, catalog, b, locks, logger),
		Realtime: realtime,
		Logger:   logger,
	})
	return &testServer{router: router, config: config, realtime: realtime, categories: []uint{rock.ID}, titles: titles}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return s.send(t, method, path, headers, body)
}

func (s *testServer) send(t *testing.T, method, path string, headers map[string]string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) signIn(t *testing.T, username string) (models.User, string) {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/users", "", gin.H{"username": username})
	require.Equal(t, http.StatusOK, code)
	var res userResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotEmpty(t, res.Token)
	return res.User, res.Token
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.OK)
}

func TestCreateUserIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	first, _ := s.signIn(t, "alice")
	second, _ := s.signIn(t, "alice")
	assert.Equal(t, first.ID, second.ID)

	code, env := s.do(t, http.MethodPost, "/api/users", "", gin.H{"username": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestGuestTokenVerifies(t *testing.T) {
	s := newTestServer(t)
	user, token := s.signIn(t, "alice")

	code, env := s.do(t, http.MethodPost, "/api/token/guest", token, nil)
	require.Equal(t, http.StatusOK, code)
	var res guestTokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, user.ID, res.UserID)
	assert.True(t, auth.VerifyProof([]byte(s.config.RealtimeHMACSecret), user.ID, "alice", res.Token))
}

func TestRequiresToken(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodPost, "/api/games", "", gin.H{"round_count": 1, "category_ids": []uint{1}})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.OK)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
}

func TestGameFlow(t *testing.T) {
	s := newTestServer(t)
	_, hostToken := s.signIn(t, "host")
	guestUser, guestToken := s.signIn(t, "guest")
	_, outsiderToken := s.signIn(t, "outsider")

	code, env := s.do(t, http.MethodPost, "/api/games", hostToken, gin.H{"round_count": 2, "category_ids": s.categories})
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	var g models.Game
	require.NoError(t, json.Unmarshal(env.Data, &g))
	assert.Equal(t, models.GameStatusLobby, g.Status)
	gamePath := fmt.Sprintf("/api/games/%d", g.ID)

	code, _ = s.do(t, http.MethodPost, gamePath+"/join", guestToken, nil)
	assert.Equal(t, http.StatusCreated, code)
	code, _ = s.do(t, http.MethodPost, gamePath+"/join", guestToken, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, gamePath+"/start", guestToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, env = s.do(t, http.MethodPost, gamePath+"/start", hostToken, nil)
	require.Equal(t, http.StatusOK, code)
	var round models.Round
	require.NoError(t, json.Unmarshal(env.Data, &round))
	require.Equal(t, 1, round.RoundNumber)

	code, env = s.do(t, http.MethodPost, gamePath+"/start", hostToken, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "GAME_ALREADY_STARTED", env.Error.Code)

	guessPath := fmt.Sprintf("/api/rounds/%d/guess", round.ID)
	// Membership is checked before the text.
	code, env = s.do(t, http.MethodPost, guessPath, outsiderToken, gin.H{"guess_text": ""})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
	code, env = s.do(t, http.MethodPost, guessPath, guestToken, gin.H{"guess_text": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.do(t, http.MethodPost, guessPath, guestToken, gin.H{"guess_text": "definitely wrong"})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"is_correct":false}`, string(env.Data))

	code, env = s.do(t, http.MethodPost, guessPath, guestToken, gin.H{"guess_text": s.titles[round.TrackID]})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"is_correct":true}`, string(env.Data))

	code, env = s.do(t, http.MethodGet, gamePath+"/state", guestToken, nil)
	require.Equal(t, http.StatusOK, code)
	var st game.State
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Len(t, st.Scores, 1)
	assert.Equal(t, guestUser.ID, st.Scores[0].UserID)
	assert.Equal(t, 2, st.Scores[0].Points)

	code, _ = s.do(t, http.MethodPost, gamePath+"/next", hostToken, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPost, gamePath+"/next", hostToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "NO_ROUNDS", env.Error.Code)

	code, env = s.do(t, http.MethodPost, gamePath+"/end", hostToken, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &g))
	assert.Equal(t, models.GameStatusEnded, g.Status)

	code, env = s.do(t, http.MethodPost, guessPath, guestToken, gin.H{"guess_text": "anything"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "GAME_NOT_RUNNING", env.Error.Code)

	code, env = s.do(t, http.MethodGet, gamePath+"/presence", guestToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, fmt.Sprintf(`{"game_id":%d,"online":[]}`, g.ID), string(env.Data))
}

func TestRequestErrors(t *testing.T) {
	s := newTestServer(t)
	_, token := s.signIn(t, "host")

	code, env := s.do(t, http.MethodGet, "/api/games/abc/state", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/api/games/999/state", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "GAME_NOT_FOUND", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/games", token, gin.H{"round_count": 0, "category_ids": s.categories})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/games", token, gin.H{"round_count": 1, "category_ids": []uint{999}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "CATEGORY_NOT_FOUND", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/rounds/999/guess", token, gin.H{"guess_text": "x"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ROUND_NOT_FOUND", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/games", token, gin.H{"round_count": 5, "category_ids": s.categories})
	require.Equal(t, http.StatusCreated, code)
	var g models.Game
	require.NoError(t, json.Unmarshal(env.Data, &g))
	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/api/games/%d/start", g.ID), token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "NOT_ENOUGH_TRACKS", env.Error.Code)
}

func TestInternalBroadcast(t *testing.T) {
	s := newTestServer(t)
	auth := map[string]string{"X-Internal-Token": "admin-token"}
	payload := gin.H{"type": "PLAYER_LEFT", "game_id": 5, "user_id": 9}

	code, env := s.send(t, http.MethodPost, "/internal/broadcast", nil, gin.H{"channel": "game:5", "payload": payload})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)

	code, env = s.send(t, http.MethodPost, "/internal/broadcast", auth, gin.H{"channel": "lobby", "payload": payload})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.send(t, http.MethodPost, "/internal/broadcast", auth,
		gin.H{"channel": "game:5", "payload": gin.H{"type": "CONFETTI"}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Empty(t, s.realtime.messages())

	code, env = s.send(t, http.MethodPost, "/internal/broadcast", auth, gin.H{"channel": "game:5", "payload": payload})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.OK)
	require.Len(t, s.realtime.messages(), 1)
	msg := s.realtime.messages()[0]
	assert.Equal(t, "game:5", msg.Channel)
	assert.Equal(t, events.PlayerLeft{GameID: 5, UserID: 9}, msg.Event)
}

func TestInternalBroadcastRateLimit(t *testing.T) {
	s := newTestServer(t)
	auth := map[string]string{"X-Internal-Token": "admin-token"}
	body := gin.H{"channel": "game:1", "payload": gin.H{"type": "PLAYER_LEFT", "game_id": 1, "user_id": 2}}

	for i := 0; i < broadcastBurst; i++ {
		code, _ := s.send(t, http.MethodPost, "/internal/broadcast", auth, body)
		require.Equal(t, http.StatusOK, code, "request %d", i+1)
	}
	code, env := s.send(t, http.MethodPost, "/internal/broadcast", auth, body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestInternalBroadcastDisabledWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(Deps{Config: models.Config{JWTSecret: "jwt-secret"}, Logger: zaptest.NewLogger(t)})

	req := httptest.NewRequest(http.MethodPost, "/internal/broadcast", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

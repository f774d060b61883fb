package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "presence:session:"
	gameKeyPrefix    = "presence:game:"
)

// SessionInfo is stored for every verified realtime connection.
type SessionInfo struct {
	GameID      uint      `json:"gameID"`
	UserID      uint      `json:"userID"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// SessionStore records live connections so every instance can tell who is
// connected to a game.
type SessionStore interface {
	Save(ctx context.Context, id string, info SessionInfo) error
	Delete(ctx context.Context, id string) error
	// Online returns the distinct users with a live session in the game.
	Online(ctx context.Context, gameID uint) ([]uint, error)
}

// RedisSessions keeps one record per session with a TTL, plus a set of
// session ids per game.
type RedisSessions struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessions(rdb *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{rdb: rdb, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func gameKey(gameID uint) string {
	return gameKeyPrefix + strconv.FormatUint(uint64(gameID), 10)
}

func (s *RedisSessions) Save(ctx context.Context, id string, info SessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(id), data, s.ttl)
		pipe.SAdd(ctx, gameKey(info.GameID), id)
		pipe.Expire(ctx, gameKey(info.GameID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session %s: %w", id, err)
	}
	return nil
}

func (s *RedisSessions) Delete(ctx context.Context, id string) error {
	info, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		if ok {
			pipe.SRem(ctx, gameKey(info.GameID), id)
		}
		return nil
	})
	return err
}

// Get returns the stored record, or false if it expired or never existed.
func (s *RedisSessions) Get(ctx context.Context, id string) (SessionInfo, bool, error) {
	var info SessionInfo
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return info, false, nil
	}
	if err != nil {
		return info, false, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, false, err
	}
	return info, true, nil
}

// Online reads the game's session set. Ids whose record has expired, left
// behind by an instance that died, are pruned.
func (s *RedisSessions) Online(ctx context.Context, gameID uint) ([]uint, error) {
	ids, err := s.rdb.SMembers(ctx, gameKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	users := []uint{}
	if len(ids) == 0 {
		return users, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var info SessionInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		users = append(users, info.UserID)
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, gameKey(gameID), stale...).Err(); err != nil {
			return nil, err
		}
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}

// MemorySessions is a SessionStore for single-process deployments.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]SessionInfo
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]SessionInfo)}
}

func (s *MemorySessions) Save(_ context.Context, id string, info SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = info
	return nil
}

func (s *MemorySessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessions) Get(_ context.Context, id string) (SessionInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[id]
	return info, ok, nil
}

func (s *MemorySessions) Online(_ context.Context, gameID uint) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []uint{}
	for _, info := range s.sessions {
		if info.GameID == gameID {
			users = append(users, info.UserID)
		}
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}

func (s *MemorySessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

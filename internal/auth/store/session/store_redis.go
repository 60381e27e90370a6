package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cmsguard/internal/auth/models"
	id "cmsguard/pkg/domain"
	"cmsguard/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix = "session:"
	userIndexPrefix  = "session:user:"
	scanBatch        = 100
)

// RedisStore keeps each session as a JSON value that expires with the session,
// plus a per-user set of tokens for bulk revocation.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

type redisSession struct {
	Token             string    `json:"token"`
	UserID            id.UserID `json:"user_id"`
	CSRFSecret        string    `json:"csrf_secret"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	DeviceName        string    `json:"device_name,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

func userIndexKey(userID id.UserID) string {
	return userIndexPrefix + userID.String()
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(redisSession(*session))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := session.TTL(session.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	created, err := s.client.SetNX(ctx, sessionKey(session.Token), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !created {
		return sentinel.ErrConflict
	}
	if err := s.client.SAdd(ctx, userIndexKey(session.UserID), session.Token).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	var stored redisSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	session := models.Session(stored)
	return &session, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	session, err := s.FindByToken(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(token))
		pipe.SRem(ctx, userIndexKey(session.UserID), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteByUser(ctx context.Context, userID id.UserID, exceptToken string) (int, error) {
	indexKey := userIndexKey(userID)
	tokens, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	pipe := s.client.TxPipeline()
	dels := make([]*redis.IntCmd, 0, len(tokens))
	for _, token := range tokens {
		if token == exceptToken {
			continue
		}
		dels = append(dels, pipe.Del(ctx, sessionKey(token)))
		pipe.SRem(ctx, indexKey, token)
	}
	if len(dels) == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}

	deleted := 0
	for _, cmd := range dels {
		deleted += int(cmd.Val())
	}
	return deleted, nil
}

// DeleteExpired removes sessions that are past ExpiresAt at now but whose key
// has not yet lapsed, and prunes index entries whose key is already gone.
// Only the former are counted.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, userIndexPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		tokens, err := s.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return deleted, fmt.Errorf("list user sessions: %w", err)
		}
		for _, token := range tokens {
			session, err := s.FindByToken(ctx, token)
			switch {
			case errors.Is(err, sentinel.ErrNotFound):
				if err := s.client.SRem(ctx, indexKey, token).Err(); err != nil {
					return deleted, fmt.Errorf("prune session index: %w", err)
				}
			case err != nil:
				return deleted, err
			case !session.IsValid(now):
				if err := s.Delete(ctx, token); err != nil {
					return deleted, err
				}
				deleted++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan session indexes: %w", err)
	}
	return deleted, nil
}

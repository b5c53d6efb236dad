// Package referral keeps the seller code a device arrived with and hands it to
// checkout sessions as an explicit value.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const maxCodeLength = 64

var (
	ErrInvalidCode   = errors.New("referral: invalid seller code")
	ErrMissingDevice = errors.New("referral: device id is required")
)

// NormalizeCode trims the code and rejects anything but letters, digits, '-'
// and '_'. An empty code is valid and means no referral.
func NormalizeCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if len(code) > maxCodeLength {
		return "", fmt.Errorf("%w: too long", ErrInvalidCode)
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return code, nil
}

func codeKey(deviceID string) string {
	return fmt.Sprintf("referral:%s", deviceID)
}

func changeChannel(deviceID string) string {
	return fmt.Sprintf("referral:changes:%s", deviceID)
}

// RedisStore persists codes per device and announces changes on a per-device
// channel so every open session of that device can follow them.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
	log   logrus.FieldLogger
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration, log logrus.FieldLogger) *RedisStore {
	return &RedisStore{redis: redisClient, ttl: ttl, log: log}
}

// Get returns the stored code, or "" when the device has none.
func (s *RedisStore) Get(ctx context.Context, deviceID string) (string, error) {
	if deviceID == "" {
		return "", nil
	}
	code, err := s.redis.Get(ctx, codeKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get referral: %w", err)
	}
	return code, nil
}

// Set stores code for the device and publishes it to followers.
func (s *RedisStore) Set(ctx context.Context, deviceID, code string) (string, error) {
	if deviceID == "" {
		return "", ErrMissingDevice
	}
	code, err := NormalizeCode(code)
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, codeKey(deviceID), code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("set referral: %w", err)
	}
	if err := s.redis.Publish(ctx, changeChannel(deviceID), code).Err(); err != nil {
		// the code is stored; open sessions just miss the update
		s.log.WithError(err).WithField("device_id", deviceID).Warn("referral change not published")
	}
	return code, nil
}

// Watch subscribes to code changes of a device until ctx is done.
func (s *RedisStore) Watch(ctx context.Context, deviceID string) (<-chan string, error) {
	if deviceID == "" {
		return nil, ErrMissingDevice
	}
	sub := s.redis.Subscribe(ctx, changeChannel(deviceID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("watch referral: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

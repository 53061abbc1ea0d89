/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package redisstore provides a Redis-backed implementation of the store contract.
//
// All tiers of one request are evaluated and committed by a single server-side
// Lua script, so the check-and-record step is atomic across tiers and across
// processes. Admission logs are kept in sorted sets whose TTL is the tier window.
package redisstore

import (
	"context"
	"crypto/sha1" // nolint:gosec // Redis identifies scripts by their SHA1.
	_ "embed"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/acronis/go-ratebucket/store"
)

//go:embed evaluate.lua
var evaluateScript string

// DefaultKeyPrefix is the default prefix for all Redis keys created by the store.
const DefaultKeyPrefix = "ratebucket:"

// Scripter is the subset of the Redis client used by the store.
// It is satisfied by *redis.Client, *redis.ClusterClient and *redis.Ring.
type Scripter interface {
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Opts represents options for the Redis store.
type Opts struct {
	// KeyPrefix is prepended to every Redis key. DefaultKeyPrefix is used when empty.
	KeyPrefix string
}

// Store is a Redis-backed admission counter store.
type Store struct {
	client    Scripter
	prefix    string
	scriptSHA string
}

var _ store.Store = (*Store)(nil)

// New creates a new Redis store.
func New(client Scripter, opts Opts) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client should not be nil")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		client:    client,
		prefix:    prefix,
		scriptSHA: scriptSHA1(evaluateScript),
	}, nil
}

// WaitReady pings Redis with exponential backoff until it responds or the
// context is canceled. It is intended as a startup readiness probe.
func (s *Store) WaitReady(ctx context.Context, maxElapsedTime time.Duration) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = maxElapsedTime
	op := func() error {
		return s.client.Ping(ctx).Err()
	}
	if err := backoff.Retry(op, backoff.WithContext(eb, ctx)); err != nil {
		return &store.UnavailableError{Err: err}
	}
	return nil
}

// Evaluate implements store.Store.
func (s *Store) Evaluate(ctx context.Context, tiers []store.TierKey, now time.Time, commit bool) (store.Result, error) {
	if len(tiers) == 0 {
		return store.Result{Admitted: true}, nil
	}

	keys := make([]string, 0, len(tiers))
	args := make([]interface{}, 0, 3+2*len(tiers))
	commitFlag := "0"
	if commit {
		commitFlag = "1"
	}
	args = append(args, now.UnixMilli(), commitFlag, xid.New().String())
	for _, tier := range tiers {
		keys = append(keys, s.counterKey(tier.Key))
		args = append(args, tier.Limit, tier.Window.Milliseconds())
	}

	raw, err := s.eval(ctx, keys, args)
	if err != nil {
		return store.Result{}, &store.UnavailableError{Err: err}
	}
	res, err := parseReply(raw, len(tiers))
	if err != nil {
		return store.Result{}, &store.UnavailableError{Err: err}
	}
	return res, nil
}

func (s *Store) eval(ctx context.Context, keys []string, args []interface{}) (interface{}, error) {
	raw, err := s.client.EvalSha(ctx, s.scriptSHA, keys, args...).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		raw, err = s.client.Eval(ctx, evaluateScript, keys, args...).Result()
	}
	return raw, err
}

// counterKey builds the Redis key for one tier counter. The bucket/item pair is
// wrapped in a hash tag so that all tiers of one request map to the same
// Redis Cluster slot and stay reachable within a single script invocation.
func (s *Store) counterKey(key store.CounterKey) string {
	return s.prefix + "{" + key.Bucket + "/" + key.Item + "}:t" + strconv.Itoa(key.Tier)
}

func parseReply(raw interface{}, tierCount int) (store.Result, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2+2*tierCount {
		return store.Result{}, fmt.Errorf("unexpected evaluate script reply: %T of length %d", raw, replyLen(raw))
	}
	admitted, err := replyInt(values[0])
	if err != nil {
		return store.Result{}, err
	}
	maxRetry, err := replyInt(values[1])
	if err != nil {
		return store.Result{}, err
	}
	res := store.Result{
		Admitted:   admitted == 1,
		RetryAfter: time.Duration(maxRetry) * time.Millisecond,
		Tiers:      make([]store.TierResult, tierCount),
	}
	for i := 0; i < tierCount; i++ {
		tierAdmitted, tErr := replyInt(values[2+2*i])
		if tErr != nil {
			return store.Result{}, tErr
		}
		tierRetry, tErr := replyInt(values[3+2*i])
		if tErr != nil {
			return store.Result{}, tErr
		}
		res.Tiers[i] = store.TierResult{
			Admitted:   tierAdmitted == 1,
			RetryAfter: time.Duration(tierRetry) * time.Millisecond,
		}
	}
	return res, nil
}

func scriptSHA1(script string) string {
	sum := sha1.Sum([]byte(script)) // nolint:gosec // Not used for security.
	return hex.EncodeToString(sum[:])
}

func replyLen(raw interface{}) int {
	if values, ok := raw.([]interface{}); ok {
		return len(values)
	}
	return -1
}

func replyInt(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected numeric type in evaluate script reply: %T", v)
	}
}

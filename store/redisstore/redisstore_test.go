/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratebucket/store"
)

// redisError makes a plain string satisfy the redis.Error interface,
// the way server replies like NOSCRIPT do.
type redisError string

func (e redisError) Error() string { return string(e) }

func (e redisError) RedisError() {}

type fakeScripter struct {
	evalShaErr   error
	evalErr      error
	reply        interface{}
	pingErr      error
	evalShaCalls int
	evalCalls    int
	lastKeys     []string
	lastArgs     []interface{}
	lastScript   string
}

func (f *fakeScripter) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.evalShaCalls++
	f.lastKeys = keys
	f.lastArgs = args
	if f.evalShaErr != nil {
		return redis.NewCmdResult(nil, f.evalShaErr)
	}
	return redis.NewCmdResult(f.reply, nil)
}

func (f *fakeScripter) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.evalCalls++
	f.lastScript = script
	f.lastKeys = keys
	f.lastArgs = args
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}
	return redis.NewCmdResult(f.reply, nil)
}

func (f *fakeScripter) ScriptLoad(_ context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult(scriptSHA1(script), nil)
}

func (f *fakeScripter) Ping(_ context.Context) *redis.StatusCmd {
	if f.pingErr != nil {
		return redis.NewStatusResult("", f.pingErr)
	}
	return redis.NewStatusResult("PONG", nil)
}

func testTiers() []store.TierKey {
	return []store.TierKey{
		{
			Key:    store.CounterKey{Bucket: "api", Tier: 0, Item: "tenant-a"},
			Limit:  2,
			Window: time.Second * 5,
		},
		{
			Key:    store.CounterKey{Bucket: "api", Tier: 1, Item: "tenant-a"},
			Limit:  15,
			Window: time.Minute,
		},
	}
}

func TestEvaluateAdmitted(t *testing.T) {
	client := &fakeScripter{reply: []interface{}{int64(1), int64(0), int64(1), int64(0), int64(1), int64(0)}}
	s, err := New(client, Opts{})
	require.NoError(t, err)

	now := time.UnixMilli(1700000000000)
	res, err := s.Evaluate(context.Background(), testTiers(), now, true)
	require.NoError(t, err)
	require.True(t, res.Admitted)
	require.Zero(t, res.RetryAfter)
	require.Equal(t, []store.TierResult{{Admitted: true}, {Admitted: true}}, res.Tiers)

	// All tiers of one request share a hash tag so they land in one cluster slot.
	require.Equal(t, []string{
		"ratebucket:{api/tenant-a}:t0",
		"ratebucket:{api/tenant-a}:t1",
	}, client.lastKeys)

	require.Len(t, client.lastArgs, 7)
	require.Equal(t, now.UnixMilli(), client.lastArgs[0])
	require.Equal(t, "1", client.lastArgs[1])
	require.NotEmpty(t, client.lastArgs[2]) // unique admission member
	require.Equal(t, 2, client.lastArgs[3])
	require.Equal(t, int64(5000), client.lastArgs[4])
	require.Equal(t, 15, client.lastArgs[5])
	require.Equal(t, int64(60000), client.lastArgs[6])
}

func TestEvaluateDenied(t *testing.T) {
	client := &fakeScripter{reply: []interface{}{int64(0), int64(3200), int64(0), int64(3200), int64(1), int64(0)}}
	s, err := New(client, Opts{KeyPrefix: "custom:"})
	require.NoError(t, err)

	res, err := s.Evaluate(context.Background(), testTiers(), time.UnixMilli(1700000000000), false)
	require.NoError(t, err)
	require.False(t, res.Admitted)
	require.Equal(t, time.Millisecond*3200, res.RetryAfter)
	require.Equal(t, []store.TierResult{
		{Admitted: false, RetryAfter: time.Millisecond * 3200},
		{Admitted: true},
	}, res.Tiers)
	require.Equal(t, "0", client.lastArgs[1])
	require.Equal(t, "custom:{api/tenant-a}:t0", client.lastKeys[0])
}

func TestEvaluateNoScriptFallback(t *testing.T) {
	client := &fakeScripter{
		evalShaErr: redisError("NOSCRIPT No matching script. Please use EVAL."),
		reply:      []interface{}{int64(1), int64(0), int64(1), int64(0), int64(1), int64(0)},
	}
	s, err := New(client, Opts{})
	require.NoError(t, err)

	res, err := s.Evaluate(context.Background(), testTiers(), time.UnixMilli(1700000000000), true)
	require.NoError(t, err)
	require.True(t, res.Admitted)
	require.Equal(t, 1, client.evalShaCalls)
	require.Equal(t, 1, client.evalCalls)
	require.Equal(t, evaluateScript, client.lastScript)
}

func TestEvaluateStoreUnavailable(t *testing.T) {
	cause := fmt.Errorf("dial tcp 127.0.0.1:6379: connection refused")
	client := &fakeScripter{evalShaErr: cause}
	s, err := New(client, Opts{})
	require.NoError(t, err)

	_, err = s.Evaluate(context.Background(), testTiers(), time.UnixMilli(1700000000000), true)
	require.Error(t, err)
	var unavailErr *store.UnavailableError
	require.ErrorAs(t, err, &unavailErr)
	require.ErrorIs(t, err, cause)
	// A non-NOSCRIPT error must not fall back to EVAL.
	require.Equal(t, 0, client.evalCalls)
}

func TestEvaluateMalformedReply(t *testing.T) {
	tests := []struct {
		Name  string
		Reply interface{}
	}{
		{"not an array", "OK"},
		{"wrong length", []interface{}{int64(1), int64(0)}},
		{"non-numeric element", []interface{}{true, int64(0), int64(1), int64(0), int64(1), int64(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			s, err := New(&fakeScripter{reply: tt.Reply}, Opts{})
			require.NoError(t, err)
			_, err = s.Evaluate(context.Background(), testTiers(), time.UnixMilli(1700000000000), true)
			var unavailErr *store.UnavailableError
			require.ErrorAs(t, err, &unavailErr)
		})
	}
}

func TestEvaluateNoTiers(t *testing.T) {
	client := &fakeScripter{}
	s, err := New(client, Opts{})
	require.NoError(t, err)
	res, err := s.Evaluate(context.Background(), nil, time.UnixMilli(1700000000000), true)
	require.NoError(t, err)
	require.True(t, res.Admitted)
	require.Equal(t, 0, client.evalShaCalls)
}

func TestEvaluateStringReply(t *testing.T) {
	// Some proxies deliver integers as strings.
	client := &fakeScripter{reply: []interface{}{"0", "700", "0", "700"}}
	s, err := New(client, Opts{})
	require.NoError(t, err)
	res, err := s.Evaluate(context.Background(), testTiers()[:1], time.UnixMilli(1700000000000), true)
	require.NoError(t, err)
	require.False(t, res.Admitted)
	require.Equal(t, time.Millisecond*700, res.RetryAfter)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, Opts{})
	require.Error(t, err)
}

func TestWaitReady(t *testing.T) {
	s, err := New(&fakeScripter{}, Opts{})
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(context.Background(), time.Second))
}

func TestWaitReadyUnavailable(t *testing.T) {
	s, err := New(&fakeScripter{pingErr: errors.New("connection refused")}, Opts{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	err = s.WaitReady(ctx, time.Second*10)
	require.Error(t, err)
	var unavailErr *store.UnavailableError
	require.ErrorAs(t, err, &unavailErr)
}

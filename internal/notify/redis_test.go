package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	return NewRedisBroker(rdb, testLogger()), mr
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	b, _ := newRedisTestBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "rustybot/jobs/J1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "rustybot/jobs/J2", []byte("other job")))
	require.NoError(t, b.Publish(ctx, "rustybot/jobs/J1", []byte(`{"index":0}`)))
	require.NoError(t, b.Publish(ctx, "rustybot/jobs/J1", []byte(`{"index":1}`)))

	first, ok := receive(t, sub)
	require.True(t, ok)
	assert.Equal(t, `{"index":0}`, string(first))

	second, ok := receive(t, sub)
	require.True(t, ok)
	assert.Equal(t, `{"index":1}`, string(second))
}

func TestRedisBroker_PublishWithoutSubscribers(t *testing.T) {
	b, _ := newRedisTestBroker(t)

	assert.NoError(t, b.Publish(context.Background(), "rustybot/jobs/nobody", []byte("x")))
}

func TestRedisBroker_CloseEndsMessages(t *testing.T) {
	b, _ := newRedisTestBroker(t)

	sub, err := b.Subscribe(context.Background(), "rustybot/jobs/J1")
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	_, ok := receive(t, sub)
	assert.False(t, ok)
}

func TestRedisBroker_ServerDown(t *testing.T) {
	b, mr := newRedisTestBroker(t)
	mr.Close()
	ctx := context.Background()

	err := b.Publish(ctx, "rustybot/jobs/J1", []byte("x"))
	assert.ErrorIs(t, err, ErrPublish)
	assert.NotErrorIs(t, err, ErrConnect)

	sub, err := b.Subscribe(ctx, "rustybot/jobs/J1")
	assert.ErrorIs(t, err, ErrConnect)
	assert.Nil(t, sub)
}

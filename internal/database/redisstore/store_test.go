package redisstore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestStore(t *testing.T) *Store {
	addr := os.Getenv("EXECUTOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EXECUTOR_TEST_REDIS_ADDR not set")
	}
	s, err := Dial(context.Background(), Option{Addrs: strings.Split(addr, ","), Prefix: "executor-test:" + t.Name() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Flush(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := dialTestStore(t)
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, s.AppendEvent(ctx, "Execution:Orders:O-2", []byte("a")))
	require.NoError(t, s.AppendEvent(ctx, "Execution:Orders:O-1", []byte("b")))
	require.NoError(t, s.AppendEvent(ctx, "Execution:Orders:O-1", []byte("c")))
	require.NoError(t, s.AppendEvent(ctx, "Execution:Accounts:A-1", []byte("d")))

	keys, err := s.Keys(ctx, "Execution:Orders:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"Execution:Orders:O-1", "Execution:Orders:O-2"}, keys)

	events, err := s.ReadEvents(ctx, "Execution:Orders:O-1")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("c")}, events)

	events, err = s.ReadEvents(ctx, "Execution:Orders:O-9")
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, s.Flush(ctx))
	keys, err = s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDialWithoutAddress(t *testing.T) {
	_, err := Dial(context.Background(), Option{})
	require.Error(t, err)
}

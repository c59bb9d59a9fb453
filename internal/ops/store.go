package ops

import (
	"context"
	"fmt"

	"github.com/yanun0323/logs"

	"executor/internal/database"
	"executor/internal/database/pgstore"
	"executor/internal/database/redisstore"
	"executor/internal/recorder"
)

// OpenStore opens the configured event store. The returned close func is never nil.
func OpenStore(ctx context.Context, l Loaded) (database.Store, func() error, error) {
	noop := func() error { return nil }

	switch l.Backend {
	case BackendMemory:
		logs.Info("event store: memory, nothing survives a restart")
		return database.NewMemoryStore(), noop, nil
	case BackendRedis:
		s, err := redisstore.Dial(ctx, l.Redis)
		if err != nil {
			return nil, noop, err
		}
		logs.Infof("event store: redis %v", l.Redis.Addrs)
		return s, s.Close, nil
	case BackendPostgres:
		s, err := pgstore.Open(ctx, l.Postgres)
		if err != nil {
			return nil, noop, err
		}
		logs.Info("event store: postgres")
		return s, s.Close, nil
	case BackendWAL:
		s, err := recorder.Open(ctx, l.WAL)
		if err != nil {
			return nil, noop, err
		}
		logs.Infof("event store: wal %s", l.WAL.Dir)
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", l.Backend)
	}
}

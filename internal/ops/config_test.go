package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"executor/internal/recorder"
)

const sampleConfig = `{
	"traderId": "TESTER-000",
	"accountId": "FXCM-02851908-SIMULATED",
	"strategyId": "SCALPER-01",
	"store": {"backend": "redis", "redis": {"addrs": ["127.0.0.1:6379"], "prefix": "exec:"}},
	"kafka": {"brokers": ["127.0.0.1:9092"], "topic": "execution.events"},
	"engine": {"gtdExpiryBackups": false, "mailboxCapacity": 128},
	"scheduler": {"tick": "5ms"}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	loaded, err := Load(writeFile(t, "config.json", sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "TESTER-000", loaded.TraderID.String())
	assert.Equal(t, BackendRedis, loaded.Backend)
	assert.Equal(t, []string{"127.0.0.1:6379"}, loaded.Redis.Addrs)
	assert.Equal(t, "exec:", loaded.Redis.Prefix)
	assert.True(t, loaded.Kafka.Enabled())
	assert.Equal(t, defaultKafkaBatch, loaded.Kafka.BatchTimeout)
	assert.False(t, loaded.Engine.GTDExpiryBackups)
	assert.True(t, loaded.Engine.LoadCache)
	assert.Equal(t, 128, loaded.Engine.MailboxCapacity)
	assert.Equal(t, 5*time.Millisecond, loaded.SchedulerTick)
}

func TestLoadEnvOverrides(t *testing.T) {
	envFile := writeFile(t, ".env", "EXECUTOR_STORE_BACKEND=wal\nEXECUTOR_WAL_DIR=/tmp/executor-wal\nEXECUTOR_WAL_SYNC_EVERY_APPEND=true\nEXECUTOR_LOAD_CACHE=false\nEXECUTOR_TRADER_ID=FROMFILE-001\n")
	t.Setenv("EXECUTOR_TRADER_ID", "FROMENV-002")

	loaded, err := Load(writeFile(t, "config.json", sampleConfig), envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "FROMENV-002", loaded.TraderID.String())
	assert.Equal(t, BackendWAL, loaded.Backend)
	assert.Equal(t, "/tmp/executor-wal", loaded.WAL.Dir)
	assert.True(t, loaded.WAL.SyncEveryAppend)
	assert.False(t, loaded.Engine.LoadCache)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("EXECUTOR_GTD_EXPIRY_BACKUPS", "maybe")
	_, err := Load(writeFile(t, "config.json", sampleConfig))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Loaded {
		loaded, err := resolve(FileConfig{
			TraderID:   "TESTER-000",
			AccountID:  "FXCM-02851908-SIMULATED",
			StrategyID: "SCALPER-01",
		})
		require.NoError(t, err)
		return loaded
	}

	testCases := []struct {
		desc   string
		mutate func(*Loaded)
		ok     bool
	}{
		{desc: "memory default", mutate: func(*Loaded) {}, ok: true},
		{desc: "bad trader", mutate: func(l *Loaded) { l.TraderID = "TESTER" }},
		{desc: "bad account", mutate: func(l *Loaded) { l.AccountID = "FXCM" }},
		{desc: "unknown backend", mutate: func(l *Loaded) { l.Backend = "etcd" }},
		{desc: "redis without addrs", mutate: func(l *Loaded) { l.Backend = BackendRedis }},
		{desc: "postgres without database", mutate: func(l *Loaded) { l.Backend = BackendPostgres }},
		{desc: "postgres dsn", mutate: func(l *Loaded) {
			l.Backend = BackendPostgres
			l.Postgres.ConnString = "postgres://localhost/executor"
		}, ok: true},
		{desc: "wal without dir", mutate: func(l *Loaded) { l.Backend = BackendWAL }},
		{desc: "kafka without topic", mutate: func(l *Loaded) { l.Kafka.Brokers = []string{"b:9092"} }},
		{desc: "zero mailbox", mutate: func(l *Loaded) { l.Engine.MailboxCapacity = 0 }},
		{desc: "zero tick", mutate: func(l *Loaded) { l.SchedulerTick = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			loaded := base()
			tc.mutate(&loaded)
			err := loaded.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitList(" a:1, ,b:2 "))
	assert.Nil(t, splitList(""))
}

func TestOpenMemoryStore(t *testing.T) {
	store, closeStore, err := OpenStore(t.Context(), Loaded{Backend: BackendMemory})
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, closeStore())

	_, closeStore, err = OpenStore(t.Context(), Loaded{Backend: "etcd"})
	assert.Error(t, err)
	assert.NoError(t, closeStore())
}

func TestOpenWALStore(t *testing.T) {
	store, closeStore, err := OpenStore(t.Context(), Loaded{Backend: BackendWAL, WAL: recorder.DefaultConfig(t.TempDir())})
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(t.Context(), "Execution:Accounts:X", []byte("{}")))
	assert.NoError(t, closeStore())
}

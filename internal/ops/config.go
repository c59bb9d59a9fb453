package ops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"

	"executor/internal/database/redisstore"
	"executor/internal/recorder"
	"executor/internal/schema"
	"executor/pkg/conn"
)

const (
	defaultMailboxCapacity = 65536
	defaultSchedulerTick   = 10 * time.Millisecond
	defaultKafkaBatch      = 10 * time.Millisecond
)

// Backend names the persistent store used by the execution database.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
	BackendWAL      Backend = "wal"
)

func (b Backend) IsAvailable() bool {
	switch b {
	case BackendMemory, BackendRedis, BackendPostgres, BackendWAL:
		return true
	default:
		return false
	}
}

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	TraderID   string          `json:"traderId"`
	AccountID  string          `json:"accountId"`
	StrategyID string          `json:"strategyId"`
	Store      StoreConfig     `json:"store"`
	Kafka      KafkaConfig     `json:"kafka"`
	Engine     EngineConfig    `json:"engine"`
	Scheduler  SchedulerConfig `json:"scheduler"`
	Profiling  ProfilingConfig `json:"profiling"`
}

// StoreConfig selects and configures the event store.
type StoreConfig struct {
	Backend  string         `json:"backend"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
	WAL      WALConfig      `json:"wal"`
}

type RedisConfig struct {
	Addrs    []string `json:"addrs"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	DB       int      `json:"db"`
	Prefix   string   `json:"prefix"`
}

type PostgresConfig struct {
	ConnString string `json:"connString"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	SSLMode    string `json:"sslMode"`
	MaxConns   int    `json:"maxConns"`
}

type WALConfig struct {
	Dir             string `json:"dir"`
	FilePrefix      string `json:"filePrefix"`
	SegmentMaxBytes int64  `json:"segmentMaxBytes"`
	SyncEveryAppend *bool  `json:"syncEveryAppend"`
	SyncInterval    string `json:"syncInterval"`
	DisableChecksum bool   `json:"disableChecksum"`
}

// KafkaConfig enables the Kafka publisher when brokers are set.
type KafkaConfig struct {
	Brokers      []string `json:"brokers"`
	Topic        string   `json:"topic"`
	BatchTimeout string   `json:"batchTimeout"`
}

// EngineConfig captures engine options. Nil flags fall back to true.
type EngineConfig struct {
	GTDExpiryBackups *bool `json:"gtdExpiryBackups"`
	LoadCache        *bool `json:"loadCache"`
	MailboxCapacity  int   `json:"mailboxCapacity"`
}

type SchedulerConfig struct {
	Tick string `json:"tick"`
}

type ProfilingConfig struct {
	PyroscopeAddr string `json:"pyroscopeAddr"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	TraderID   schema.TraderID
	AccountID  schema.AccountID
	StrategyID schema.StrategyID

	Backend  Backend
	Redis    redisstore.Option
	Postgres conn.Option
	WAL      recorder.Config

	Kafka  Kafka
	Engine Engine

	SchedulerTick time.Duration
	PyroscopeAddr string
}

// Kafka is the resolved publisher setting.
type Kafka struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Enabled reports whether events should be published to Kafka.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

// Engine is the resolved engine setting.
type Engine struct {
	GTDExpiryBackups bool
	LoadCache        bool
	MailboxCapacity  int
}

// Load reads an optional JSON config file, applies environment overrides and
// resolves the result. Variables in envFiles never override the process environment.
func Load(path string, envFiles ...string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := sonic.ConfigStd.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("decode config %s, err: %w", path, err)
		}
	}

	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return Loaded{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Loaded{}, err
	}

	loaded, err := resolve(cfg)
	if err != nil {
		return Loaded{}, err
	}
	if err := loaded.Validate(); err != nil {
		return Loaded{}, err
	}
	return loaded, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, file := range files {
		env, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read env file %s, err: %w", file, err)
		}
		for k, v := range env {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

func applyEnv(cfg *FileConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst **bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env %s=%q, err: %w", key, v, err)
		}
		*dst = &parsed
		return nil
	}

	str("EXECUTOR_TRADER_ID", &cfg.TraderID)
	str("EXECUTOR_ACCOUNT_ID", &cfg.AccountID)
	str("EXECUTOR_STRATEGY_ID", &cfg.StrategyID)
	str("EXECUTOR_STORE_BACKEND", &cfg.Store.Backend)
	list("EXECUTOR_REDIS_ADDRS", &cfg.Store.Redis.Addrs)
	str("EXECUTOR_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	str("EXECUTOR_REDIS_PREFIX", &cfg.Store.Redis.Prefix)
	str("EXECUTOR_PG_DSN", &cfg.Store.Postgres.ConnString)
	str("EXECUTOR_PG_PASSWORD", &cfg.Store.Postgres.Password)
	str("EXECUTOR_WAL_DIR", &cfg.Store.WAL.Dir)
	list("EXECUTOR_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	str("EXECUTOR_KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("EXECUTOR_SCHEDULER_TICK", &cfg.Scheduler.Tick)
	str("EXECUTOR_PYROSCOPE_ADDR", &cfg.Profiling.PyroscopeAddr)
	if err := boolean("EXECUTOR_GTD_EXPIRY_BACKUPS", &cfg.Engine.GTDExpiryBackups); err != nil {
		return err
	}
	if err := boolean("EXECUTOR_LOAD_CACHE", &cfg.Engine.LoadCache); err != nil {
		return err
	}
	if err := boolean("EXECUTOR_WAL_SYNC_EVERY_APPEND", &cfg.Store.WAL.SyncEveryAppend); err != nil {
		return err
	}
	if v, ok := lookup("EXECUTOR_MAILBOX_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env EXECUTOR_MAILBOX_CAPACITY=%q, err: %w", v, err)
		}
		cfg.Engine.MailboxCapacity = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func resolve(cfg FileConfig) (Loaded, error) {
	backend := Backend(strings.ToLower(cfg.Store.Backend))
	if backend == "" {
		backend = BackendMemory
	}

	tick, err := parseDuration("scheduler.tick", cfg.Scheduler.Tick, defaultSchedulerTick)
	if err != nil {
		return Loaded{}, err
	}
	batch, err := parseDuration("kafka.batchTimeout", cfg.Kafka.BatchTimeout, defaultKafkaBatch)
	if err != nil {
		return Loaded{}, err
	}

	mailbox := cfg.Engine.MailboxCapacity
	if mailbox == 0 {
		mailbox = defaultMailboxCapacity
	}

	wal := recorder.DefaultConfig(cfg.Store.WAL.Dir)
	if cfg.Store.WAL.FilePrefix != "" {
		wal.FilePrefix = cfg.Store.WAL.FilePrefix
	}
	if cfg.Store.WAL.SegmentMaxBytes > 0 {
		wal.SegmentMaxBytes = cfg.Store.WAL.SegmentMaxBytes
	}
	wal.DisableChecksum = cfg.Store.WAL.DisableChecksum
	wal.SyncEveryAppend = cfg.Store.WAL.SyncEveryAppend != nil && *cfg.Store.WAL.SyncEveryAppend
	if wal.SyncInterval, err = parseDuration("store.wal.syncInterval", cfg.Store.WAL.SyncInterval, wal.SyncInterval); err != nil {
		return Loaded{}, err
	}

	pg := cfg.Store.Postgres
	return Loaded{
		TraderID:   schema.TraderID(cfg.TraderID),
		AccountID:  schema.AccountID(cfg.AccountID),
		StrategyID: schema.StrategyID(cfg.StrategyID),
		Backend:    backend,
		Redis: redisstore.Option{
			Addrs:    cfg.Store.Redis.Addrs,
			Username: cfg.Store.Redis.Username,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		},
		Postgres: conn.Option{
			ConnString:   pg.ConnString,
			Host:         pg.Host,
			Port:         pg.Port,
			User:         pg.User,
			Password:     pg.Password,
			Database:     pg.Database,
			SSLMode:      pg.SSLMode,
			MaxOpenConns: pg.MaxConns,
		},
		WAL: wal,
		Kafka: Kafka{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: batch,
		},
		Engine: Engine{
			GTDExpiryBackups: flagOrTrue(cfg.Engine.GTDExpiryBackups),
			LoadCache:        flagOrTrue(cfg.Engine.LoadCache),
			MailboxCapacity:  mailbox,
		},
		SchedulerTick: tick,
		PyroscopeAddr: cfg.Profiling.PyroscopeAddr,
	}, nil
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s %q, err: %w", name, value, err)
	}
	return d, nil
}

func flagOrTrue(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

// Validate rejects unusable combinations.
func (l Loaded) Validate() error {
	if _, err := schema.NewTraderID(l.TraderID.String()); err != nil {
		return err
	}
	if _, err := schema.NewAccountID(l.AccountID.String()); err != nil {
		return err
	}
	if _, err := schema.NewStrategyID(l.StrategyID.String()); err != nil {
		return err
	}
	if !l.Backend.IsAvailable() {
		return fmt.Errorf("unknown store backend %q", l.Backend)
	}
	switch l.Backend {
	case BackendRedis:
		if len(l.Redis.Addrs) == 0 {
			return fmt.Errorf("redis backend requires at least one address")
		}
	case BackendPostgres:
		if err := l.Postgres.Validate(); err != nil {
			return err
		}
	case BackendWAL:
		if err := l.WAL.Validate(); err != nil {
			return err
		}
	}
	if l.Kafka.Enabled() && l.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is empty")
	}
	if l.Engine.MailboxCapacity <= 0 {
		return fmt.Errorf("mailbox capacity must be > 0")
	}
	if l.SchedulerTick <= 0 {
		return fmt.Errorf("scheduler tick must be > 0")
	}
	return nil
}

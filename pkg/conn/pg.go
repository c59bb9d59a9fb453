// Package conn opens the PostgreSQL pool behind the event store.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

// Option describes a PostgreSQL endpoint. ConnString wins over the discrete fields.
type Option struct {
	ConnString string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// LogQueries routes gorm's statement log through the default logger.
	LogQueries bool
}

func (opt Option) Validate() error {
	if opt.ConnString == "" && opt.Database == "" {
		return errors.New("postgres requires connString or database")
	}
	if opt.Port < 0 || opt.Port > 65535 {
		return fmt.Errorf("postgres port %d out of range", opt.Port)
	}
	if opt.MaxOpenConns < 0 || opt.MaxIdleConns < 0 {
		return errors.New("postgres pool sizes must be >= 0")
	}
	return nil
}

// DSN renders the connection URL.
func (opt Option) DSN() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}
	return opt.url(true).String()
}

// Redacted is DSN with the password masked, for logs.
func (opt Option) Redacted() string {
	if opt.ConnString != "" {
		u, err := url.Parse(opt.ConnString)
		if err != nil {
			return "postgres://<unparsable>"
		}
		return u.Redacted()
	}
	return opt.url(false).String()
}

func (opt Option) url(withPassword bool) *url.URL {
	host := opt.Host
	if host == "" {
		host = "localhost"
	}
	port := opt.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{Scheme: "postgres", Host: host + ":" + strconv.Itoa(port), Path: "/" + opt.Database}
	switch {
	case opt.User == "":
	case opt.Password != "" && withPassword:
		u.User = url.UserPassword(opt.User, opt.Password)
	case opt.Password != "":
		u.User = url.UserPassword(opt.User, "xxxxx")
	default:
		u.User = url.User(opt.User)
	}

	q := url.Values{"sslmode": {"disable"}}
	if opt.SSLMode != "" {
		q.Set("sslmode", opt.SSLMode)
	}
	for k, v := range opt.Params {
		if k != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u
}

// Client is a pinged gorm pool.
type Client struct {
	db *gorm.DB
}

// Open connects, applies the pool limits and pings within a short deadline.
func Open(ctx context.Context, opt Option) (*Client, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}

	level := logger.Silent
	if opt.LogQueries {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(opt.DSN()), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("open %s, err: %w", opt.Redacted(), err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opt.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if opt.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(opt.MaxIdleConns)
	}
	if opt.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(opt.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s, err: %w", opt.Redacted(), err)
	}

	logs.Infof("postgres connected, dsn: %s", opt.Redacted())
	return &Client{db: db}, nil
}

// Session returns a gorm session bound to ctx.
func (c *Client) Session(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	pool, err := c.db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

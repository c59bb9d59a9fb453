// Package pgstore keeps event logs in a PostgreSQL table through gorm.
package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"executor/pkg/conn"
)

// EventRecord is one row of an event log. Rows of a key are read back in id order.
type EventRecord struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	AggregateKey string    `gorm:"column:aggregate_key;type:varchar(255);index;not null"`
	Payload      []byte    `gorm:"column:payload;type:bytea;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (EventRecord) TableName() string {
	return "execution_events"
}

// Store implements database.Store over a gorm connection.
type Store struct {
	client *conn.Client
}

// Open connects to PostgreSQL and migrates the event table.
func Open(ctx context.Context, opt conn.Option) (*Store, error) {
	client, err := conn.Open(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("pg store: connect, err: %w", err)
	}
	s := &Store{client: client}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client. Call Migrate before first use on a fresh database.
func New(client *conn.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.client.Session(ctx).AutoMigrate(&EventRecord{}); err != nil {
		return fmt.Errorf("pg store: migrate, err: %w", err)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, key string, data []byte) error {
	record := EventRecord{AggregateKey: key, Payload: data, CreatedAt: time.Now().UTC()}
	if err := s.client.Session(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("pg store: append %s, err: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.client.Session(ctx).
		Model(&EventRecord{}).
		Distinct("aggregate_key").
		Where("aggregate_key LIKE ?", likePattern(pattern)).
		Order("aggregate_key").
		Pluck("aggregate_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("pg store: keys %s, err: %w", pattern, err)
	}
	return keys, nil
}

func (s *Store) ReadEvents(ctx context.Context, key string) ([][]byte, error) {
	var records []EventRecord
	err := s.client.Session(ctx).
		Where("aggregate_key = ?", key).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("pg store: read %s, err: %w", key, err)
	}
	out := make([][]byte, len(records))
	for i, r := range records {
		out[i] = r.Payload
	}
	return out, nil
}

func (s *Store) Flush(ctx context.Context) error {
	err := s.client.Session(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&EventRecord{}).Error
	if err != nil {
		return fmt.Errorf("pg store: flush, err: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// likePattern converts a glob with * and ? into a LIKE pattern.
func likePattern(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const (
	defaultApplicationName = "storefront"
	defaultPingTimeout     = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig — параметры пула database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig рассчитан на один инстанс API и воркер outbox.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

type storeOptions struct {
	pool            PoolConfig
	applicationName string
	pingTimeout     time.Duration
	logger          *log.Entry
}

// Option настраивает подключение.
type Option func(*storeOptions)

// WithPool задаёт параметры пула. Нулевые поля берутся из DefaultPoolConfig.
func WithPool(pool PoolConfig) Option {
	return func(o *storeOptions) {
		def := DefaultPoolConfig()
		if pool.MaxOpenConns <= 0 {
			pool.MaxOpenConns = def.MaxOpenConns
		}
		if pool.MaxIdleConns <= 0 {
			pool.MaxIdleConns = pool.MaxOpenConns
		}
		if pool.ConnMaxLifetime <= 0 {
			pool.ConnMaxLifetime = def.ConnMaxLifetime
		}
		if pool.ConnMaxIdleTime <= 0 {
			pool.ConnMaxIdleTime = def.ConnMaxIdleTime
		}
		o.pool = pool
	}
}

// WithApplicationName задаёт application_name, видимый в pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.applicationName = name
		}
	}
}

// WithLogger задаёт логгер стора и мигратора.
func WithLogger(logger *log.Entry) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Store держит пул подключений к PostgreSQL, общий для всех репозиториев.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
	logger      *log.Entry
}

// Open разбирает DSN через pgx, открывает пул и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := storeOptions{
		pool:            DefaultPoolConfig(),
		applicationName: defaultApplicationName,
		pingTimeout:     defaultPingTimeout,
		logger:          log.New().WithField("component", "postgres"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	if _, ok := connCfg.RuntimeParams["application_name"]; !ok {
		connCfg.RuntimeParams["application_name"] = o.applicationName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(o.pool.MaxOpenConns)
	db.SetMaxIdleConns(o.pool.MaxIdleConns)
	db.SetConnMaxLifetime(o.pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(o.pool.ConnMaxIdleTime)

	store := &Store{db: db, pingTimeout: o.pingTimeout, logger: o.logger}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store.logger.WithFields(log.Fields{
		"host":      connCfg.Host,
		"database":  connCfg.Database,
		"max_conns": o.pool.MaxOpenConns,
	}).Info("postgres connected")
	return store, nil
}

// DB возвращает пул для репозиториев и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы. Используется health-чекером.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Stats отдаёт состояние пула.
func (s *Store) Stats() sql.DBStats {
	if s == nil || s.db == nil {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close закрывает пул. Безопасен для nil.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

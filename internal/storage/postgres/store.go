// Package postgres implements the Entity Store on PostgreSQL through pgx. Reference sets are bigint
// arrays on the owning row and chat participants live in their own table.
package postgres

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"social-backend/internal/storage"
	"social-backend/internal/storage/zapadapter"
)

//go:embed schema.sql
var schema string

// Store defines fields used in db interaction processes
type Store struct {
	reader
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

var _ storage.Backend = (*Store)(nil)

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	s, err := connect(ctx, logger, cfg.DSN(), opts...)
	if err != nil {
		return nil, err
	}
	logger.Infof("Connected to postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
	return s, nil
}

func connect(ctx context.Context, logger *zap.SugaredLogger, dsn string, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parsing postgres config")
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	for _, o := range opts {
		o.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}

	return &Store{
		reader: reader{q: pool},
		logger: logger,
		db:     pool,
	}, nil
}

// Migrate creates missing tables
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "applying schema")
	}
	s.logger.Info("Schema applied")
	return nil
}

// Begin starts a transaction; a failing statement poisons it until Rollback
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	t, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	return &tx{
		reader: reader{q: t},
		logger: s.logger,
		tx:     t,
	}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

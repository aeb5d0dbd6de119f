package db

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"go.uber.org/zap"
)

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(template string, args ...any) {
	l.Warnf(template, args...)
}

func NewBadger(cfg configs.BadgerConfig, logger *zap.SugaredLogger) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger.Named("badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Dir, err)
	}

	return db, nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// BadgerConfig configures an embedded Badger cache.
type BadgerConfig struct {
	// Dir is the data directory. Empty means in-memory.
	Dir string

	// GCInterval runs value-log GC periodically. Zero disables it.
	GCInterval time.Duration

	Logger zerolog.Logger
}

// Badger is a persistent TTL cache backed by BadgerDB.
type Badger struct {
	db     *badger.DB
	logger zerolog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// OpenBadger opens or creates the store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	b := &Badger{
		db:     db,
		logger: cfg.Logger.With().Str("component", "badger_cache").Logger(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if cfg.GCInterval > 0 && cfg.Dir != "" {
		go b.gcLoop(cfg.GCInterval)
	} else {
		close(b.done)
	}

	return b, nil
}

// Get returns the value or ErrMiss. Badger drops expired keys itself.
func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return out, nil
}

// Set stores value with ttl.
func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

// Close stops GC and closes the database.
func (b *Badger) Close() error {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	<-b.done
	return b.db.Close()
}

func (b *Badger) gcLoop(interval time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			for {
				if err := b.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						b.logger.Warn().Err(err).Msg("value log GC failed")
					}
					break
				}
			}
		}
	}
}

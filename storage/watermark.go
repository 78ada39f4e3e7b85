// Package storage provides the pebble-backed watermark store used by the
// poll scheduler to survive restarts. The sync engine itself never persists
// anything.
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var watermarkKey = []byte("watermark")

// WatermarkStore persists the last fully synced round in a pebble database.
type WatermarkStore struct {
	db *pebble.DB
}

// OpenWatermarkStore opens (creating if needed) the store at path.
func OpenWatermarkStore(path string) (*WatermarkStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening watermark store at %s: %w", path, err)
	}
	return &WatermarkStore{db: db}, nil
}

// Watermark returns the stored watermark, or 0 when none has been written.
func (s *WatermarkStore) Watermark(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	value, closer, err := s.db.Get(watermarkKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading watermark: %w", err)
	}
	defer closer.Close()

	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt watermark value of %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// SetWatermark durably records the watermark.
func (s *WatermarkStore) SetWatermark(ctx context.Context, round uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	if err := s.db.Set(watermarkKey, buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("writing watermark %d: %w", round, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *WatermarkStore) Close() error {
	return s.db.Close()
}

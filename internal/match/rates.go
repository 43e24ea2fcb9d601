package match

import (
	"context"
	"time"

	"github.com/dsil-design/joot-reconcile/internal/service"
)

// StorageRateSource resolves exchange rates from the persisted rate table.
// The table is consumed, not computed; a missing rate surfaces as
// common.ErrRateNotFound.
type StorageRateSource struct {
	storage service.Storage
}

// NewStorageRateSource creates a rate source over the given storage.
func NewStorageRateSource(storage service.Storage) *StorageRateSource {
	return &StorageRateSource{storage: storage}
}

// GetRate returns the rate converting one unit of from into to on the given
// date.
func (r *StorageRateSource) GetRate(ctx context.Context, date time.Time, from, to string) (float64, error) {
	return r.storage.GetExchangeRate(ctx, date, from, to)
}

var _ service.RateSource = (*StorageRateSource)(nil)

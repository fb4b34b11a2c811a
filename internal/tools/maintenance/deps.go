package maintenance

import (
	"github.com/louisbranch/replica/internal/services/replica/storage"
)

// openStoreFunc opens the replica store selected by cfg; tests swap it for an
// in-memory store.
type openStoreFunc func(cfg Config) (storage.Store, error)

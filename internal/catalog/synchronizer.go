package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/internal/remote"
	"github.com/angelmondragon/starbuy/pkg/db"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const defaultStoreTimeout = 5 * time.Second

// Fetcher returns the marketplace's current snapshot.
type Fetcher interface {
	FetchAvailableItems(ctx context.Context) ([]remote.Gift, error)
}

// SyncResult counts the rows a sync pass touched.
type SyncResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Changed reports whether the pass armed any item as new.
func (r SyncResult) Changed() int {
	return r.Inserted + r.Updated
}

// Synchronizer mirrors the remote snapshot into the catalog store.
type Synchronizer struct {
	fetcher      Fetcher
	tx           db.TxRunner
	repo         Repository
	logg         *logger.Logger
	storeTimeout time.Duration
}

// NewSynchronizer wires a synchronizer.
func NewSynchronizer(fetcher Fetcher, tx db.TxRunner, repo Repository, logg *logger.Logger) (*Synchronizer, error) {
	if fetcher == nil {
		return nil, errors.New("catalog fetcher required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if repo == nil {
		return nil, errors.New("catalog repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Synchronizer{fetcher: fetcher, tx: tx, repo: repo, logg: logg, storeTimeout: defaultStoreTimeout}, nil
}

// WithStoreTimeout sets the deadline of the upsert transaction.
func (s *Synchronizer) WithStoreTimeout(d time.Duration) *Synchronizer {
	if d > 0 {
		s.storeTimeout = d
	}
	return s
}

// Sync fetches the snapshot and upserts it in one transaction. A failed fetch
// returns REMOTE_UNAVAILABLE before the store is touched.
func (s *Synchronizer) Sync(ctx context.Context) (SyncResult, error) {
	gifts, err := s.fetcher.FetchAvailableItems(ctx)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeRemoteUnavailable) {
			return SyncResult{}, err
		}
		return SyncResult{}, pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, "fetch catalog snapshot")
	}

	ids := make([]string, 0, len(gifts))
	for _, gift := range gifts {
		ids = append(ids, gift.ID)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var result SyncResult
	err = s.tx.WithTx(storeCtx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByIDs(storeCtx, ids)
		if err != nil {
			return fmt.Errorf("load known items: %w", err)
		}
		for _, gift := range gifts {
			incoming := itemFromGift(gift)
			known, ok := existing[gift.ID]
			switch {
			case !ok:
				incoming.IsNew = true
				if err := repo.Insert(storeCtx, &incoming); err != nil {
					return fmt.Errorf("insert item %s: %w", gift.ID, err)
				}
				result.Inserted++
			case !known.SameListing(incoming):
				if err := repo.UpdateListing(storeCtx, incoming); err != nil {
					return fmt.Errorf("update item %s: %w", gift.ID, err)
				}
				result.Updated++
			default:
				result.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist catalog snapshot")
	}

	if result.Changed() > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"inserted": result.Inserted,
			"updated":  result.Updated,
		}), "catalog synchronized")
	}
	return result, nil
}

func itemFromGift(gift remote.Gift) models.Item {
	return models.Item{
		ItemID:          gift.ID,
		Price:           gift.Price(),
		RemainingSupply: gift.RemainingCount,
		TotalSupply:     gift.TotalCount,
	}
}

// Package ingest feeds the stake ledger from chain logs. One watcher runs
// per chain; it polls confirmed pool contracts for Staked/Unstaked/
// RewardClaimed events and appends them with their (tx hash, log index)
// idempotency key, so re-observed logs are skipped rather than
// double-counted. The core assumes a single ingestion path per pool and
// does not provide distributed locking across watchers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/fanstake/fanstake/internal/chain"
	"github.com/fanstake/fanstake/internal/ledger"
	"github.com/fanstake/fanstake/internal/metrics"
	"github.com/fanstake/fanstake/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Source is the slice of the chain client the watcher needs.
type Source interface {
	BlockNumber(ctx context.Context, chainID uint64) (uint64, error)
	FilterStakeLogs(ctx context.Context, address string, chainID uint64, fromBlock, toBlock uint64) ([]chain.StakeLog, error)
}

// PoolLister supplies the confirmed pools to scan.
type PoolLister interface {
	ConfirmedPools(ctx context.Context, chainID uint64) ([]models.Pool, error)
}

// Watcher polls one chain for staking events.
type Watcher struct {
	db         *gorm.DB
	source     Source
	pools      PoolLister
	chainID    uint64
	interval   time.Duration
	blockRange uint64
	logger     zerolog.Logger
}

// NewWatcher creates a watcher for the given chain.
func NewWatcher(db *gorm.DB, source Source, pools PoolLister, chainID uint64, interval time.Duration, blockRange uint64, logger zerolog.Logger) *Watcher {
	return &Watcher{
		db:         db,
		source:     source,
		pools:      pools,
		chainID:    chainID,
		interval:   interval,
		blockRange: blockRange,
		logger:     logger.With().Str("component", "ingest").Uint64("chain_id", chainID).Logger(),
	}
}

// Run polls until the context is cancelled. A failed scan is logged and
// retried on the next tick; it never stops the loop.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info().Msg("Starting event watcher")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Event watcher received shutdown signal")
			return ctx.Err()
		case <-ticker.C:
			if err := w.ScanOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Scan failed")
			}
		}
	}
}

// ScanOnce advances every confirmed pool's cursor by at most one block
// range.
func (w *Watcher) ScanOnce(ctx context.Context) error {
	head, err := w.source.BlockNumber(ctx, w.chainID)
	if err != nil {
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	pools, err := w.pools.ConfirmedPools(ctx, w.chainID)
	if err != nil {
		return err
	}

	for _, p := range pools {
		if err := w.scanPool(ctx, &p, head); err != nil {
			w.logger.Error().Err(err).Uint("pool_id", p.ID).Msg("Failed to scan pool")
			// Keep scanning the remaining pools
		}
	}
	return nil
}

func (w *Watcher) scanPool(ctx context.Context, p *models.Pool, head uint64) error {
	cursor, err := w.loadCursor(ctx, p)
	if err != nil {
		return err
	}

	metrics.WatcherBlockLag.
		WithLabelValues(strconv.FormatUint(w.chainID, 10)).
		Set(float64(head - min(cursor.LastBlock, head)))

	from := cursor.LastBlock + 1
	if from > head {
		return nil
	}

	to := from + w.blockRange - 1
	if to > head {
		to = head
	}

	logs, err := w.source.FilterStakeLogs(ctx, *p.PoolAddress, w.chainID, from, to)
	if err != nil {
		return fmt.Errorf("failed to read logs for pool %d: %w", p.ID, err)
	}

	return w.ApplyLogs(ctx, p, cursor, logs, to)
}

// ApplyLogs appends the block range's events, maintains the StakedPool
// materialized view and the TotalStaked snapshot, and advances the cursor,
// all in one transaction. Duplicate logs are skipped.
func (w *Watcher) ApplyLogs(ctx context.Context, p *models.Pool, cursor *models.IngestCursor, logs []chain.StakeLog, scannedTo uint64) error {
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lg := ledger.New(tx, w.logger)

		for _, stakeLog := range logs {
			wallet, err := w.walletFor(tx, stakeLog.Account)
			if err != nil {
				return err
			}

			_, err = lg.AppendEvent(ctx, p.ID, wallet.ID, stakeLog.EventType, stakeLog.Amount, stakeLog.BlockTime, ledger.EventKey{
				TxHash:   stakeLog.TxHash,
				LogIndex: stakeLog.LogIndex,
			})
			if errors.Is(err, ledger.ErrDuplicateEvent) {
				w.logger.Debug().
					Str("tx_hash", stakeLog.TxHash).
					Uint("log_index", stakeLog.LogIndex).
					Msg("Skipping already-ingested log")
				continue
			}
			if err != nil {
				return err
			}

			if err := w.applyToView(tx, p.ID, wallet.ID, stakeLog); err != nil {
				return err
			}
		}

		cursor.LastBlock = scannedTo
		if err := tx.Save(cursor).Error; err != nil {
			return fmt.Errorf("failed to advance ingest cursor: %w", err)
		}
		return nil
	})
}

// applyToView folds one event into the materialized view and the pool's
// cached total. Claim events carry no stake movement.
func (w *Watcher) applyToView(tx *gorm.DB, poolID, walletID uint, stakeLog chain.StakeLog) error {
	if stakeLog.EventType == models.EventTypeClaim {
		return nil
	}

	var row models.StakedPool
	err := tx.Where("pool_id = ? AND user_wallet_id = ?", poolID, walletID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.StakedPool{
			UserWalletID: walletID,
			PoolID:       poolID,
			StakeAmount:  "0",
			CreatedAt:    stakeLog.BlockTime,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create staked pool row: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to load staked pool row: %w", err)
	}

	balance, err := ledger.ParseAmount(row.StakeAmount)
	if err != nil {
		return fmt.Errorf("corrupt materialized stake for wallet %d: %w", walletID, err)
	}

	switch stakeLog.EventType {
	case models.EventTypeStake:
		balance.Add(balance, stakeLog.Amount)
	case models.EventTypeUnstake:
		balance.Sub(balance, stakeLog.Amount)
	}

	if balance.Sign() < 0 {
		return fmt.Errorf("materialized stake for wallet %d went negative at tx %s", walletID, stakeLog.TxHash)
	}

	err = tx.Model(&models.StakedPool{}).
		Where("pool_id = ? AND user_wallet_id = ?", poolID, walletID).
		Update("stake_amount", balance.String()).Error
	if err != nil {
		return fmt.Errorf("failed to update staked pool row: %w", err)
	}

	return w.adjustTotal(tx, poolID, stakeLog.EventType, stakeLog.Amount)
}

func (w *Watcher) adjustTotal(tx *gorm.DB, poolID uint, eventType string, amount *big.Int) error {
	var p models.Pool
	if err := tx.First(&p, poolID).Error; err != nil {
		return fmt.Errorf("failed to load pool %d: %w", poolID, err)
	}

	total, err := ledger.ParseAmount(p.TotalStaked)
	if err != nil {
		return fmt.Errorf("corrupt total staked snapshot for pool %d: %w", poolID, err)
	}

	switch eventType {
	case models.EventTypeStake:
		total.Add(total, amount)
	case models.EventTypeUnstake:
		total.Sub(total, amount)
	}

	if total.Sign() < 0 {
		return fmt.Errorf("total staked snapshot for pool %d went negative", poolID)
	}

	err = tx.Model(&models.Pool{}).
		Where("id = ?", poolID).
		Update("total_staked", total.String()).Error
	if err != nil {
		return fmt.Errorf("failed to update total staked snapshot: %w", err)
	}
	return nil
}

// walletFor resolves a fan's address to a Wallet row, creating one on
// first sight. Fan wallets have no platform user attached.
func (w *Watcher) walletFor(tx *gorm.DB, address string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.Where("address = ?", address).First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up wallet %s: %w", address, err)
	}

	wallet = models.Wallet{Address: address}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to create wallet %s: %w", address, err)
	}
	if wallet.ID == 0 {
		// Lost a create race, re-read
		if err := tx.Where("address = ?", address).First(&wallet).Error; err != nil {
			return nil, fmt.Errorf("failed to re-read wallet %s: %w", address, err)
		}
	}
	return &wallet, nil
}

func (w *Watcher) loadCursor(ctx context.Context, p *models.Pool) (*models.IngestCursor, error) {
	var cursor models.IngestCursor
	err := w.db.WithContext(ctx).Where("pool_id = ?", p.ID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = models.IngestCursor{PoolID: p.ID, ChainID: w.chainID}
		if err := w.db.WithContext(ctx).Create(&cursor).Error; err != nil {
			return nil, fmt.Errorf("failed to create ingest cursor: %w", err)
		}
		return &cursor, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ingest cursor: %w", err)
	}
	return &cursor, nil
}

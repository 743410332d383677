// Package pool owns the lifecycle of the (wallet, chain) → reward pool
// mapping: creation, on-chain confirmation, error recovery, and the
// reconciliation that reverts a confirmed pool to pending when its stored
// address no longer has code on-chain.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/fanstake/fanstake/internal/apperr"
	"github.com/fanstake/fanstake/internal/chain"
	"github.com/fanstake/fanstake/internal/metrics"
	"github.com/fanstake/fanstake/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager moves a pool through absent → pending → confirmed. All chain
// reads are side-effect-free, and store writes happen only after a
// successful on-chain check, so a crash mid-operation leaves at worst a
// pending row, which is safe to retry.
type Manager struct {
	db       *gorm.DB
	verifier chain.Verifier
	logger   zerolog.Logger
}

// NewManager creates a lifecycle manager using the injected chain verifier.
func NewManager(db *gorm.DB, verifier chain.Verifier, logger zerolog.Logger) *Manager {
	return &Manager{
		db:       db,
		verifier: verifier,
		logger:   logger.With().Str("component", "pool").Logger(),
	}
}

// Create is idempotent. With no row it inserts a pending one; with a
// pending row it returns it unchanged; with a confirmed row it verifies
// the stored address on-chain:
//
//   - code absent: the address is cleared and the pool reverts to pending
//     so the caller can retry on-chain creation (reconciliation).
//   - code present: ErrConflict.
//   - verification failed: ErrVerificationUnavailable. Absence is never
//     assumed from an RPC failure.
func (m *Manager) Create(ctx context.Context, wallet *models.Wallet, chainID uint64, description string) (*models.Pool, error) {
	existing, err := m.find(ctx, wallet.ID, chainID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		row := &models.Pool{
			WalletID:    wallet.ID,
			ChainID:     chainID,
			Description: description,
			TotalStaked: "0",
		}

		// Two concurrent creates race on the (wallet_id, chain_id)
		// unique index; the loser falls through to a plain read.
		result := m.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(row)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to create pool: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			m.logger.Info().
				Uint("pool_id", row.ID).
				Uint64("chain_id", chainID).
				Str("wallet", wallet.Address).
				Msg("Created pending pool")
			return row, nil
		}

		existing, err = m.find(ctx, wallet.ID, chainID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperr.Wrap(apperr.ErrInternal, "pool vanished after create conflict")
		}
	}

	if !existing.Confirmed() {
		return existing, nil
	}

	exists, err := m.verifier.ContractExistsAt(ctx, *existing.PoolAddress, chainID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrVerificationUnavailable, "checking pool contract %s: %v", *existing.PoolAddress, err)
	}

	if exists {
		return nil, apperr.Wrap(apperr.ErrConflict, "live pool at %s on chain %d", *existing.PoolAddress, chainID)
	}

	// The recorded contract no longer has code. Clear the address so the
	// creator can redeploy.
	m.logger.Warn().
		Uint("pool_id", existing.ID).
		Uint64("chain_id", chainID).
		Str("stale_address", *existing.PoolAddress).
		Msg("Stored pool address has no code on-chain, reverting to pending")

	err = m.db.WithContext(ctx).Model(existing).Update("pool_address", nil).Error
	if err != nil {
		return nil, fmt.Errorf("failed to clear stale pool address: %w", err)
	}
	metrics.PoolReconciliations.Inc()

	existing.PoolAddress = nil
	return existing, nil
}

// Confirm reads the factory registry for the creator's pool address and
// records it. Confirming twice with the same on-chain address is a no-op
// beyond refreshing the stored value.
func (m *Manager) Confirm(ctx context.Context, wallet *models.Wallet, chainID uint64) (*models.Pool, error) {
	address, err := m.verifier.GetPoolForCreator(ctx, wallet.Address, chainID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrVerificationUnavailable, "reading factory on chain %d: %v", chainID, err)
	}
	if address == "" {
		return nil, apperr.Wrap(apperr.ErrNoOnChainPool, "factory reports no pool for %s on chain %d", wallet.Address, chainID)
	}

	existing, err := m.find(ctx, wallet.ID, chainID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		existing = &models.Pool{
			WalletID:    wallet.ID,
			ChainID:     chainID,
			TotalStaked: "0",
		}
		result := m.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(existing)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to create pool row: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			existing, err = m.find(ctx, wallet.ID, chainID)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, apperr.Wrap(apperr.ErrInternal, "pool vanished after confirm conflict")
			}
		}
	}

	err = m.db.WithContext(ctx).Model(existing).Update("pool_address", address).Error
	if err != nil {
		return nil, fmt.Errorf("failed to record pool address: %w", err)
	}
	existing.PoolAddress = &address

	m.logger.Info().
		Uint("pool_id", existing.ID).
		Uint64("chain_id", chainID).
		Str("pool_address", address).
		Msg("Pool confirmed")

	return existing, nil
}

// DeleteOnError hard-deletes a pending row so a failed on-chain creation
// can be retried from scratch. Confirmed pools cannot be deleted this way.
func (m *Manager) DeleteOnError(ctx context.Context, wallet *models.Wallet, chainID uint64) (uint, error) {
	existing, err := m.find(ctx, wallet.ID, chainID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, apperr.Wrap(apperr.ErrNotFound, "no pool for chain %d", chainID)
	}
	if existing.Confirmed() {
		return 0, apperr.Wrap(apperr.ErrConflict, "pool %d is confirmed and cannot be deleted", existing.ID)
	}

	err = m.db.WithContext(ctx).Unscoped().Delete(existing).Error
	if err != nil {
		return 0, fmt.Errorf("failed to delete pool: %w", err)
	}

	m.logger.Info().
		Uint("pool_id", existing.ID).
		Uint64("chain_id", chainID).
		Msg("Deleted pending pool after failed creation")

	return existing.ID, nil
}

// Get returns the wallet's pool for the chain, or nil when none exists.
func (m *Manager) Get(ctx context.Context, wallet *models.Wallet, chainID uint64) (*models.Pool, error) {
	return m.find(ctx, wallet.ID, chainID)
}

// UpdateDescription changes the pool's description.
func (m *Manager) UpdateDescription(ctx context.Context, wallet *models.Wallet, chainID uint64, description string) (*models.Pool, error) {
	existing, err := m.find(ctx, wallet.ID, chainID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.Wrap(apperr.ErrNotFound, "no pool for chain %d", chainID)
	}

	err = m.db.WithContext(ctx).Model(existing).Update("description", description).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update description: %w", err)
	}
	existing.Description = description
	return existing, nil
}

// ConfirmedPools lists every pool with a recorded address, used by the
// event watcher to know which contracts to scan.
func (m *Manager) ConfirmedPools(ctx context.Context, chainID uint64) ([]models.Pool, error) {
	var pools []models.Pool
	err := m.db.WithContext(ctx).
		Where("chain_id = ? AND pool_address IS NOT NULL", chainID).
		Find(&pools).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed pools: %w", err)
	}
	return pools, nil
}

func (m *Manager) find(ctx context.Context, walletID uint, chainID uint64) (*models.Pool, error) {
	var row models.Pool
	err := m.db.WithContext(ctx).
		Where("wallet_id = ? AND chain_id = ?", walletID, chainID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pool: %w", err)
	}
	return &row, nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// StakedPool is the materialized "current stake" per (fan wallet, pool).
// It is a denormalized fast path for ranking and pagination, maintained by
// the same ingestion path that appends StakeEvents. It is never the source
// of truth: dashboard totals are recomputed from the event log, and
// ledger.Recompute rebuilds these rows from scratch when they drift.
type StakedPool struct {
	gorm.Model
	UserWalletID uint      `gorm:"uniqueIndex:idx_staked_pools_wallet_pool;not null"`
	PoolID       uint      `gorm:"uniqueIndex:idx_staked_pools_wallet_pool;index;not null"`
	StakeAmount  string    `gorm:"type:numeric(78,0);not null;default:0"`
	CreatedAt    time.Time `gorm:"index"`

	// Relationships
	UserWallet Wallet `gorm:"foreignKey:UserWalletID"`
	Pool       Pool   `gorm:"foreignKey:PoolID"`
}

// IngestCursor tracks the last block scanned by the event watcher for a
// pool. It advances in the same transaction that appends the block range's
// events, so a crash never skips or double-counts a range.
type IngestCursor struct {
	gorm.Model
	PoolID    uint   `gorm:"uniqueIndex;not null"`
	ChainID   uint64 `gorm:"index;not null"`
	LastBlock uint64 `gorm:"not null;default:0"`
}

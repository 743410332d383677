package models

import (
	"gorm.io/gorm"
)

// Pool represents a creator's reward pool on a single chain. A wallet may
// own at most one pool per chain, enforced by the composite unique index
// on (wallet_id, chain_id).
//
// PoolAddress is nil while the pool is pending, i.e. the on-chain creation
// transaction has not been confirmed yet. TotalStaked is a cached snapshot
// maintained by the event watcher; balances and dashboard totals are always
// recomputed from the StakeEvent log.
type Pool struct {
	gorm.Model
	WalletID    uint    `gorm:"uniqueIndex:idx_pools_wallet_chain;not null"`
	ChainID     uint64  `gorm:"uniqueIndex:idx_pools_wallet_chain;not null"`
	PoolAddress *string `gorm:"size:42;index"`
	Description string  `gorm:"size:500"`
	ImageRef    string  `gorm:"size:255"`
	TotalStaked string  `gorm:"type:numeric(78,0);default:0"`

	// Relationships
	Wallet      Wallet       `gorm:"foreignKey:WalletID"`
	StakeEvents []StakeEvent `gorm:"foreignKey:PoolID"`
	StakedPools []StakedPool `gorm:"foreignKey:PoolID"`
}

// Confirmed reports whether the pool has a recorded on-chain address.
func (p *Pool) Confirmed() bool {
	return p.PoolAddress != nil && *p.PoolAddress != ""
}

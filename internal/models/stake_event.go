package models

import (
	"time"

	"gorm.io/gorm"
)

// Stake event types. Claim events record reward withdrawals and do not
// affect the staking balance.
const (
	EventTypeStake   = "stake"
	EventTypeUnstake = "unstake"
	EventTypeClaim   = "claim"
)

// StakeEvent is an immutable fact observed on-chain: a fan staked into,
// unstaked from, or claimed rewards out of a pool. Rows are insert-only;
// the (tx_hash, log_index) unique index is the ingestion idempotency key.
//
// Amount is a non-negative integer in raw token base units, stored as a
// numeric string so values beyond 64 bits survive the round trip intact.
type StakeEvent struct {
	gorm.Model
	PoolID       uint      `gorm:"uniqueIndex:idx_stake_events_tx_log;index:idx_stake_events_pool_created;not null"`
	UserWalletID uint      `gorm:"index;not null"`
	EventType    string    `gorm:"size:16;not null"`
	Amount       string    `gorm:"type:numeric(78,0);not null"`
	TxHash       *string   `gorm:"size:66;uniqueIndex:idx_stake_events_tx_log"`
	LogIndex     uint      `gorm:"uniqueIndex:idx_stake_events_tx_log"`
	CreatedAt    time.Time `gorm:"index:idx_stake_events_pool_created"`

	// Relationships
	Pool       Pool   `gorm:"foreignKey:PoolID"`
	UserWallet Wallet `gorm:"foreignKey:UserWalletID"`
}

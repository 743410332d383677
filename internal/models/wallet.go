package models

import (
	"gorm.io/gorm"
)

// Wallet represents a blockchain wallet. Creator wallets carry a UserID;
// a user has at most one wallet, enforced by the unique index. Fan wallets
// observed by the event watcher have no platform user and a nil UserID.
type Wallet struct {
	gorm.Model
	UserID  *string `gorm:"size:64;uniqueIndex"`
	Address string  `gorm:"size:42;uniqueIndex;not null"`

	// Relationships
	Pools []Pool `gorm:"foreignKey:WalletID"`
}

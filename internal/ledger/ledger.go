// Package ledger is the sole authority for staking balances. Balances are
// derived by replaying the append-only StakeEvent log, never by reading a
// mutable counter, so any historical total is reproducible for audit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fanstake/fanstake/internal/apperr"
	"github.com/fanstake/fanstake/internal/metrics"
	"github.com/fanstake/fanstake/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNegativeBalance means replay produced a balance below zero. That
	// is an ingestion defect, never a valid business state.
	ErrNegativeBalance = errors.New("ledger replay produced a negative balance")

	// ErrInvalidAmount means an amount failed to parse as a non-negative
	// integer.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicateEvent means an event with the same (tx hash, log index)
	// idempotency key was already recorded for the pool.
	ErrDuplicateEvent = errors.New("duplicate stake event")
)

// Ledger provides append-only writes and replay-based reads over the
// StakeEvent log.
type Ledger struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a ledger backed by the given store.
func New(db *gorm.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// ParseAmount normalizes a decimal string into a non-negative big.Int.
// Amounts arrive from the chain and the store in string form; all
// arithmetic happens on the parsed value, never on the string.
func ParseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a base-10 integer", ErrInvalidAmount, raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, raw)
	}
	return amount, nil
}

// EventKey is the ingestion idempotency key. A zero key marks an event
// with no on-chain provenance (manual or test appends).
type EventKey struct {
	TxHash   string
	LogIndex uint
}

// AppendEvent inserts one immutable event. Prior rows are never updated or
// deleted. A duplicate key returns ErrDuplicateEvent so the watcher can
// skip re-observed logs without treating them as failures.
func (l *Ledger) AppendEvent(ctx context.Context, poolID, userWalletID uint, eventType string, amount *big.Int, at time.Time, key EventKey) (*models.StakeEvent, error) {
	switch eventType {
	case models.EventTypeStake, models.EventTypeUnstake, models.EventTypeClaim:
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: event amounts must be non-negative", ErrInvalidAmount)
	}

	event := &models.StakeEvent{
		PoolID:       poolID,
		UserWalletID: userWalletID,
		EventType:    eventType,
		Amount:       amount.String(),
		LogIndex:     key.LogIndex,
		CreatedAt:    at.UTC(),
	}
	if key.TxHash != "" {
		event.TxHash = &key.TxHash
	}

	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to append stake event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.RecordEventIngested(eventType, "duplicate")
		return nil, fmt.Errorf("%w: tx %s log %d", ErrDuplicateEvent, key.TxHash, key.LogIndex)
	}

	metrics.RecordEventIngested(eventType, "appended")
	return event, nil
}

// BalanceOf replays all events for the (pool, wallet) pair in chronological
// order: stake adds, unstake subtracts, claim is reward withdrawal and does
// not touch the staking balance.
func (l *Ledger) BalanceOf(ctx context.Context, poolID, userWalletID uint) (*big.Int, error) {
	var events []models.StakeEvent
	err := l.db.WithContext(ctx).
		Where("pool_id = ? AND user_wallet_id = ?", poolID, userWalletID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load stake events: %w", err)
	}

	return l.replay(events)
}

// TotalStaked replays the whole pool's log and returns the aggregate
// currently-staked amount.
func (l *Ledger) TotalStaked(ctx context.Context, poolID uint) (*big.Int, error) {
	return l.totalBefore(ctx, poolID, nil)
}

// TotalStakedBefore returns the aggregate staked amount as it stood
// strictly before the cutoff. Missing history is zero, which is a defined
// business rule, not an error.
func (l *Ledger) TotalStakedBefore(ctx context.Context, poolID uint, cutoff time.Time) (*big.Int, error) {
	c := cutoff.UTC()
	return l.totalBefore(ctx, poolID, &c)
}

func (l *Ledger) totalBefore(ctx context.Context, poolID uint, cutoff *time.Time) (*big.Int, error) {
	started := time.Now()

	query := l.db.WithContext(ctx).Where("pool_id = ?", poolID)
	if cutoff != nil {
		query = query.Where("created_at < ?", *cutoff)
	}

	var events []models.StakeEvent
	if err := query.Order("created_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load stake events: %w", err)
	}

	total, err := l.replay(events)
	if err != nil {
		return nil, err
	}

	metrics.RecordLedgerReplay(time.Since(started).Seconds())
	return total, nil
}

// replay accumulates the running sum over an ordered event slice.
func (l *Ledger) replay(events []models.StakeEvent) (*big.Int, error) {
	sum := new(big.Int)
	for _, event := range events {
		amount, err := ParseAmount(event.Amount)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInternal, "corrupt amount in event %d: %v", event.ID, err)
		}

		switch event.EventType {
		case models.EventTypeStake:
			sum.Add(sum, amount)
		case models.EventTypeUnstake:
			sum.Sub(sum, amount)
		case models.EventTypeClaim:
			// reward withdrawal, no effect on stake
		}

		if sum.Sign() < 0 {
			return nil, apperr.Wrap(apperr.ErrInternal, "%v at event %d", ErrNegativeBalance, event.ID)
		}
	}
	return sum, nil
}

// EventsSince returns the pool's events at or after the cutoff, oldest
// first. The dashboard buckets these into daily series.
func (l *Ledger) EventsSince(ctx context.Context, poolID uint, since time.Time) ([]models.StakeEvent, error) {
	var events []models.StakeEvent
	err := l.db.WithContext(ctx).
		Where("pool_id = ? AND created_at >= ?", poolID, since.UTC()).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load stake events: %w", err)
	}
	return events, nil
}

// RecentEvents returns the pool's newest events, newest first.
func (l *Ledger) RecentEvents(ctx context.Context, poolID uint, limit int) ([]models.StakeEvent, error) {
	var events []models.StakeEvent
	err := l.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	return events, nil
}

// Recompute rebuilds the StakedPool materialized view and the pool's
// TotalStaked snapshot from the event log. Divergence between the view and
// the replayed balances is a data-integrity defect: it is logged before
// being repaired, never silently reconciled.
func (l *Ledger) Recompute(ctx context.Context, poolID uint) error {
	var events []models.StakeEvent
	err := l.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return fmt.Errorf("failed to load stake events: %w", err)
	}

	balances := make(map[uint]*big.Int)
	firstStake := make(map[uint]time.Time)
	total := new(big.Int)

	for _, event := range events {
		amount, err := ParseAmount(event.Amount)
		if err != nil {
			return apperr.Wrap(apperr.ErrInternal, "corrupt amount in event %d: %v", event.ID, err)
		}

		balance, ok := balances[event.UserWalletID]
		if !ok {
			balance = new(big.Int)
			balances[event.UserWalletID] = balance
		}

		switch event.EventType {
		case models.EventTypeStake:
			balance.Add(balance, amount)
			total.Add(total, amount)
			if _, seen := firstStake[event.UserWalletID]; !seen {
				firstStake[event.UserWalletID] = event.CreatedAt
			}
		case models.EventTypeUnstake:
			balance.Sub(balance, amount)
			total.Sub(total, amount)
		}

		if balance.Sign() < 0 {
			return apperr.Wrap(apperr.ErrInternal, "%v for wallet %d at event %d", ErrNegativeBalance, event.UserWalletID, event.ID)
		}
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.StakedPool
		if err := tx.Where("pool_id = ?", poolID).Find(&rows).Error; err != nil {
			return fmt.Errorf("failed to load staked pool rows: %w", err)
		}

		for _, row := range rows {
			replayed, ok := balances[row.UserWalletID]
			if !ok || replayed.String() != row.StakeAmount {
				l.logger.Warn().
					Uint("pool_id", poolID).
					Uint("wallet_id", row.UserWalletID).
					Str("materialized", row.StakeAmount).
					Str("replayed", replayedString(replayed)).
					Msg("Materialized stake diverged from ledger, repairing")
			}
		}

		// Hard delete: soft-deleted rows would still occupy the
		// (wallet, pool) unique index and block the rebuild.
		if err := tx.Unscoped().Where("pool_id = ?", poolID).Delete(&models.StakedPool{}).Error; err != nil {
			return fmt.Errorf("failed to clear staked pool rows: %w", err)
		}

		for walletID, balance := range balances {
			row := models.StakedPool{
				UserWalletID: walletID,
				PoolID:       poolID,
				StakeAmount:  balance.String(),
				CreatedAt:    firstStake[walletID],
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to rebuild staked pool row: %w", err)
			}
		}

		err := tx.Model(&models.Pool{}).
			Where("id = ?", poolID).
			Update("total_staked", total.String()).Error
		if err != nil {
			return fmt.Errorf("failed to update total staked snapshot: %w", err)
		}
		return nil
	})
}

func replayedString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

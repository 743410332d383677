// Package dashboard derives the creator-facing aggregate figures. Totals
// and trends are always recomputed from the stake event log; the
// materialized StakedPool view is used only as the fast path for ranking
// and pagination.
package dashboard

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/fanstake/fanstake/internal/apperr"
	"github.com/fanstake/fanstake/internal/ledger"
	"github.com/fanstake/fanstake/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	recentActivityLimit = 10
	dailySeriesDays     = 30
	newFanWindow        = 7 * 24 * time.Hour
)

// Fan sort orders accepted by GetFans.
const (
	OrderByCreatedAt   = "createdAt"
	OrderByStakeAmount = "stakeAmount"
)

// Activity is one recent ledger event for display.
type Activity struct {
	EventType     string    `json:"eventType"`
	WalletAddress string    `json:"walletAddress"`
	Amount        string    `json:"amount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DailyPoint is one day's net stake movement (stake − unstake).
type DailyPoint struct {
	Date string `json:"date"`
	Net  string `json:"net"`
}

// Dashboard is the aggregate view for a pool. Monetary amounts are
// decimal-string-encoded integers to survive values beyond 53 bits.
type Dashboard struct {
	TotalStake                 string       `json:"totalStake"`
	TotalActiveFans            int64        `json:"totalActiveFans"`
	RecentActivity             []Activity   `json:"recentActivity"`
	TotalStakePercentageChange float64      `json:"totalStakePercentageChange"`
	NewFansThisWeek            int64        `json:"newFansThisWeek"`
	DailyStakeSeries           []DailyPoint `json:"dailyStakeSeries"`
}

// Fan is one ranked entry of the pool's leaderboard.
type Fan struct {
	WalletAddress string    `json:"walletAddress"`
	StakeAmount   string    `json:"stakeAmount"`
	FirstStakeAt  time.Time `json:"firstStakeAt"`
}

// Aggregator computes dashboards and fan rankings on demand. It holds no
// state between calls.
type Aggregator struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	logger zerolog.Logger
}

// New creates an aggregator over the given store and ledger.
func New(db *gorm.DB, lg *ledger.Ledger, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		db:     db,
		ledger: lg,
		logger: logger.With().Str("component", "dashboard").Logger(),
	}
}

// authorize enforces that the caller owns the pool before any ledger read.
func authorize(wallet *models.Wallet, p *models.Pool) error {
	if p.WalletID != wallet.ID {
		return apperr.Wrap(apperr.ErrForbidden, "wallet %d does not own pool %d", wallet.ID, p.ID)
	}
	return nil
}

// GetDashboard recomputes the pool's aggregate view as of the given time.
// Day buckets and the month boundary are pinned to UTC.
func (a *Aggregator) GetDashboard(ctx context.Context, wallet *models.Wallet, p *models.Pool, asOf time.Time) (*Dashboard, error) {
	if err := authorize(wallet, p); err != nil {
		return nil, err
	}

	asOf = asOf.UTC()

	totalStake, err := a.ledger.TotalStaked(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	monthStart := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthStartTotal, err := a.ledger.TotalStakedBefore(ctx, p.ID, monthStart)
	if err != nil {
		return nil, err
	}

	var activeFans int64
	err = a.db.WithContext(ctx).
		Model(&models.StakedPool{}).
		Where("pool_id = ? AND stake_amount > 0", p.ID).
		Count(&activeFans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count active fans: %w", err)
	}

	recent, err := a.recentActivity(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	newFans, err := a.newFansSince(ctx, p.ID, asOf.Add(-newFanWindow))
	if err != nil {
		return nil, err
	}

	series, err := a.dailySeries(ctx, p.ID, asOf)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		TotalStake:                 totalStake.String(),
		TotalActiveFans:            activeFans,
		RecentActivity:             recent,
		TotalStakePercentageChange: percentageChange(monthStartTotal, totalStake),
		NewFansThisWeek:            newFans,
		DailyStakeSeries:           series,
	}, nil
}

// percentageChange compares the current total against the start-of-month
// total. A zero starting total reports 100 when the current total is
// positive and 0 otherwise, avoiding an undefined division.
func percentageChange(start, current *big.Int) float64 {
	if start.Sign() == 0 {
		if current.Sign() > 0 {
			return 100
		}
		return 0
	}

	diff := new(big.Int).Sub(current, start)
	ratio := new(big.Float).Quo(new(big.Float).SetInt(diff), new(big.Float).SetInt(start))
	pct, _ := new(big.Float).Mul(ratio, big.NewFloat(100)).Float64()
	return pct
}

func (a *Aggregator) recentActivity(ctx context.Context, poolID uint) ([]Activity, error) {
	var events []models.StakeEvent
	err := a.db.WithContext(ctx).
		Preload("UserWallet").
		Where("pool_id = ?", poolID).
		Order("created_at DESC, id DESC").
		Limit(recentActivityLimit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent activity: %w", err)
	}

	activity := make([]Activity, 0, len(events))
	for _, event := range events {
		activity = append(activity, Activity{
			EventType:     event.EventType,
			WalletAddress: event.UserWallet.Address,
			Amount:        event.Amount,
			CreatedAt:     event.CreatedAt,
		})
	}
	return activity, nil
}

// newFansSince counts distinct wallets whose first stake event falls after
// the cutoff, grouped by wallet rather than by event count.
func (a *Aggregator) newFansSince(ctx context.Context, poolID uint, cutoff time.Time) (int64, error) {
	var events []models.StakeEvent
	err := a.db.WithContext(ctx).
		Select("user_wallet_id", "created_at").
		Where("pool_id = ? AND event_type = ?", poolID, models.EventTypeStake).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load stake events: %w", err)
	}

	firsts := make(map[uint]time.Time)
	for _, event := range events {
		if _, seen := firsts[event.UserWalletID]; !seen {
			firsts[event.UserWalletID] = event.CreatedAt
		}
	}

	var count int64
	for _, first := range firsts {
		if !first.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// dailySeries buckets the last 30 days of events into UTC day boundaries,
// netting stake − unstake per bucket. The result always has exactly 30
// ordered points, oldest first, with zero-net days filled in.
func (a *Aggregator) dailySeries(ctx context.Context, poolID uint, asOf time.Time) ([]DailyPoint, error) {
	today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	windowStart := today.AddDate(0, 0, -(dailySeriesDays - 1))

	events, err := a.ledger.EventsSince(ctx, poolID, windowStart)
	if err != nil {
		return nil, err
	}

	nets := make(map[string]*big.Int, dailySeriesDays)
	for _, event := range events {
		amount, err := ledger.ParseAmount(event.Amount)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInternal, "corrupt amount in event %d: %v", event.ID, err)
		}

		day := event.CreatedAt.UTC().Format("2006-01-02")
		net, ok := nets[day]
		if !ok {
			net = new(big.Int)
			nets[day] = net
		}

		switch event.EventType {
		case models.EventTypeStake:
			net.Add(net, amount)
		case models.EventTypeUnstake:
			net.Sub(net, amount)
		}
	}

	series := make([]DailyPoint, 0, dailySeriesDays)
	for i := 0; i < dailySeriesDays; i++ {
		day := windowStart.AddDate(0, 0, i).Format("2006-01-02")
		net, ok := nets[day]
		if !ok {
			net = new(big.Int)
		}
		series = append(series, DailyPoint{Date: day, Net: net.String()})
	}
	return series, nil
}

// GetFans paginates the materialized per-wallet stake view. Pages are
// 1-indexed; a page past the end returns an empty list. Only wallets with
// a strictly positive current balance appear, so closed positions drop off
// the leaderboard.
func (a *Aggregator) GetFans(ctx context.Context, wallet *models.Wallet, p *models.Pool, page, pageSize int, orderBy, direction string) ([]Fan, int64, error) {
	if err := authorize(wallet, p); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var column string
	switch orderBy {
	case OrderByCreatedAt, "":
		column = "created_at"
	case OrderByStakeAmount:
		column = "stake_amount"
	default:
		return nil, 0, fmt.Errorf("unknown orderBy %q", orderBy)
	}

	switch direction {
	case "asc", "desc":
	case "":
		direction = "desc"
	default:
		return nil, 0, fmt.Errorf("unknown direction %q", direction)
	}

	var total int64
	err := a.db.WithContext(ctx).
		Model(&models.StakedPool{}).
		Where("pool_id = ? AND stake_amount > 0", p.ID).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count fans: %w", err)
	}

	var rows []models.StakedPool
	err = a.db.WithContext(ctx).
		Where("pool_id = ? AND stake_amount > 0", p.ID).
		Preload("UserWallet").
		Order(fmt.Sprintf("%s %s", column, direction)).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load fans: %w", err)
	}

	fans := make([]Fan, 0, len(rows))
	for _, row := range rows {
		fans = append(fans, Fan{
			WalletAddress: row.UserWallet.Address,
			StakeAmount:   row.StakeAmount,
			FirstStakeAt:  row.CreatedAt,
		})
	}
	return fans, total, nil
}

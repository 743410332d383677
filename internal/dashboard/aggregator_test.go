package dashboard

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/fanstake/fanstake/internal/apperr"
	"github.com/fanstake/fanstake/internal/database"
	"github.com/fanstake/fanstake/internal/ledger"
	"github.com/fanstake/fanstake/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setup(t *testing.T) (*Aggregator, *gorm.DB, *models.Wallet, *models.Pool) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	userID := "creator-1"
	creator := models.Wallet{UserID: &userID, Address: "0x1111111111111111111111111111111111111111"}
	require.NoError(t, db.Create(&creator).Error)

	p := models.Pool{WalletID: creator.ID, ChainID: 73863, TotalStaked: "0"}
	require.NoError(t, db.Create(&p).Error)

	lg := ledger.New(db, zerolog.Nop())
	return New(db, lg, zerolog.Nop()), db, &creator, &p
}

func newFan(t *testing.T, db *gorm.DB, i int) *models.Wallet {
	t.Helper()
	fan := models.Wallet{Address: fmt.Sprintf("0x%040d", i)}
	require.NoError(t, db.Create(&fan).Error)
	return &fan
}

func stakeEvent(t *testing.T, db *gorm.DB, poolID, walletID uint, eventType string, amount int64, at time.Time) {
	t.Helper()
	lg := ledger.New(db, zerolog.Nop())
	_, err := lg.AppendEvent(context.Background(), poolID, walletID, eventType, big.NewInt(amount), at, ledger.EventKey{})
	require.NoError(t, err)
}

func TestPercentageChange(t *testing.T) {
	t.Run("zero start positive current reports 100", func(t *testing.T) {
		assert.Equal(t, float64(100), percentageChange(big.NewInt(0), big.NewInt(500)))
	})

	t.Run("zero start zero current reports 0", func(t *testing.T) {
		assert.Equal(t, float64(0), percentageChange(big.NewInt(0), big.NewInt(0)))
	})

	t.Run("growth", func(t *testing.T) {
		assert.InDelta(t, 50.0, percentageChange(big.NewInt(200), big.NewInt(300)), 0.001)
	})

	t.Run("decline", func(t *testing.T) {
		assert.InDelta(t, -25.0, percentageChange(big.NewInt(400), big.NewInt(300)), 0.001)
	})
}

func TestGetFansPagination(t *testing.T) {
	agg, db, creator, p := setup(t)

	// 25 active fans
	for i := 1; i <= 25; i++ {
		fan := newFan(t, db, i)
		row := models.StakedPool{
			UserWalletID: fan.ID,
			PoolID:       p.ID,
			StakeAmount:  fmt.Sprintf("%d", i*10),
			CreatedAt:    time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		}
		require.NoError(t, db.Create(&row).Error)
	}

	ctx := context.Background()
	for page, want := range map[int]int{1: 10, 2: 10, 3: 5, 4: 0} {
		fans, total, err := agg.GetFans(ctx, creator, p, page, 10, OrderByStakeAmount, "desc")
		require.NoError(t, err)
		assert.Equal(t, int64(25), total)
		assert.Len(t, fans, want, "page %d", page)
	}

	// Ordering by stake amount descending puts the largest stake first
	fans, _, err := agg.GetFans(ctx, creator, p, 1, 10, OrderByStakeAmount, "desc")
	require.NoError(t, err)
	assert.Equal(t, "250", fans[0].StakeAmount)
}

func TestGetFansExcludesClosedPositions(t *testing.T) {
	agg, db, creator, p := setup(t)

	active := newFan(t, db, 1)
	closed := newFan(t, db, 2)

	require.NoError(t, db.Create(&models.StakedPool{
		UserWalletID: active.ID, PoolID: p.ID, StakeAmount: "120", CreatedAt: time.Now().UTC(),
	}).Error)
	require.NoError(t, db.Create(&models.StakedPool{
		UserWalletID: closed.ID, PoolID: p.ID, StakeAmount: "0", CreatedAt: time.Now().UTC(),
	}).Error)

	fans, total, err := agg.GetFans(context.Background(), creator, p, 1, 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, fans, 1)
	assert.Equal(t, active.Address, fans[0].WalletAddress)
	assert.Equal(t, "120", fans[0].StakeAmount)
}

func TestGetFansRejectsUnknownOrder(t *testing.T) {
	agg, _, creator, p := setup(t)

	_, _, err := agg.GetFans(context.Background(), creator, p, 1, 10, "balance", "desc")
	assert.Error(t, err)
}

func TestGetDashboardForbiddenForNonOwner(t *testing.T) {
	agg, db, _, p := setup(t)

	otherID := "intruder"
	other := models.Wallet{UserID: &otherID, Address: "0x9999999999999999999999999999999999999999"}
	require.NoError(t, db.Create(&other).Error)

	_, err := agg.GetDashboard(context.Background(), &other, p, time.Now().UTC())
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, _, err = agg.GetFans(context.Background(), &other, p, 1, 10, "", "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestGetDashboardAggregates(t *testing.T) {
	agg, db, creator, p := setup(t)

	asOf := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)
	monthStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	fan := newFan(t, db, 1)
	late := newFan(t, db, 2)

	// 400 staked before the month boundary, 100 net added after
	stakeEvent(t, db, p.ID, fan.ID, models.EventTypeStake, 500, monthStart.AddDate(0, 0, -20))
	stakeEvent(t, db, p.ID, fan.ID, models.EventTypeUnstake, 100, monthStart.AddDate(0, 0, -10))
	stakeEvent(t, db, p.ID, late.ID, models.EventTypeStake, 100, asOf.Add(-48*time.Hour))
	stakeEvent(t, db, p.ID, late.ID, models.EventTypeClaim, 30, asOf.Add(-24*time.Hour))

	require.NoError(t, db.Create(&models.StakedPool{
		UserWalletID: fan.ID, PoolID: p.ID, StakeAmount: "400", CreatedAt: monthStart.AddDate(0, 0, -20),
	}).Error)
	require.NoError(t, db.Create(&models.StakedPool{
		UserWalletID: late.ID, PoolID: p.ID, StakeAmount: "100", CreatedAt: asOf.Add(-48 * time.Hour),
	}).Error)

	view, err := agg.GetDashboard(context.Background(), creator, p, asOf)
	require.NoError(t, err)

	assert.Equal(t, "500", view.TotalStake)
	assert.Equal(t, int64(2), view.TotalActiveFans)
	assert.InDelta(t, 25.0, view.TotalStakePercentageChange, 0.001)

	// Only the late fan's first stake falls inside the 7-day window
	assert.Equal(t, int64(1), view.NewFansThisWeek)

	// Claim appears in activity but not in stake figures
	require.Len(t, view.RecentActivity, 4)
	assert.Equal(t, models.EventTypeClaim, view.RecentActivity[0].EventType)
}

func TestGetDashboardPercentageBoundary(t *testing.T) {
	agg, db, creator, p := setup(t)

	asOf := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)

	t.Run("zero history zero current", func(t *testing.T) {
		view, err := agg.GetDashboard(context.Background(), creator, p, asOf)
		require.NoError(t, err)
		assert.Equal(t, float64(0), view.TotalStakePercentageChange)
		assert.Equal(t, "0", view.TotalStake)
	})

	t.Run("zero history positive current", func(t *testing.T) {
		fan := newFan(t, db, 1)
		stakeEvent(t, db, p.ID, fan.ID, models.EventTypeStake, 500, asOf.Add(-time.Hour))

		view, err := agg.GetDashboard(context.Background(), creator, p, asOf)
		require.NoError(t, err)
		assert.Equal(t, float64(100), view.TotalStakePercentageChange)
		assert.Equal(t, "500", view.TotalStake)
	})
}

func TestDailySeriesShape(t *testing.T) {
	agg, db, creator, p := setup(t)

	asOf := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)
	fan := newFan(t, db, 1)

	stakeEvent(t, db, p.ID, fan.ID, models.EventTypeStake, 300, asOf.Add(-2*time.Hour))
	stakeEvent(t, db, p.ID, fan.ID, models.EventTypeUnstake, 50, asOf.Add(-time.Hour))
	stakeEvent(t, db, p.ID, fan.ID, models.EventTypeStake, 70, asOf.AddDate(0, 0, -3))
	// Outside the 30-day window, must not appear
	stakeEvent(t, db, p.ID, fan.ID, models.EventTypeStake, 1000, asOf.AddDate(0, 0, -45))

	view, err := agg.GetDashboard(context.Background(), creator, p, asOf)
	require.NoError(t, err)

	require.Len(t, view.DailyStakeSeries, 30)
	assert.Equal(t, "2026-08-17", view.DailyStakeSeries[0].Date)
	assert.Equal(t, "2026-09-15", view.DailyStakeSeries[29].Date)

	// Today nets stake − unstake; the earlier day keeps its own bucket
	assert.Equal(t, "250", view.DailyStakeSeries[29].Net)
	assert.Equal(t, "70", view.DailyStakeSeries[26].Net)

	// Days without events are zero-filled
	assert.Equal(t, "0", view.DailyStakeSeries[1].Net)
}

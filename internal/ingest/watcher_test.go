package ingest

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/fanstake/fanstake/internal/chain"
	"github.com/fanstake/fanstake/internal/database"
	"github.com/fanstake/fanstake/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const chainID = uint64(73863)

type fakeSource struct {
	head uint64
	logs []chain.StakeLog
}

func (f *fakeSource) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterStakeLogs(ctx context.Context, address string, chainID uint64, fromBlock, toBlock uint64) ([]chain.StakeLog, error) {
	var out []chain.StakeLog
	for _, lg := range f.logs {
		if lg.BlockNumber >= fromBlock && lg.BlockNumber <= toBlock {
			out = append(out, lg)
		}
	}
	return out, nil
}

type fakeLister struct {
	pools []models.Pool
}

func (f *fakeLister) ConfirmedPools(ctx context.Context, chainID uint64) ([]models.Pool, error) {
	return f.pools, nil
}

func setupWatcher(t *testing.T, source *fakeSource) (*Watcher, *gorm.DB, *models.Pool) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	userID := "creator-1"
	creator := models.Wallet{UserID: &userID, Address: "0x1111111111111111111111111111111111111111"}
	require.NoError(t, db.Create(&creator).Error)

	address := "0xCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCc"
	p := models.Pool{WalletID: creator.ID, ChainID: chainID, PoolAddress: &address, TotalStaked: "0"}
	require.NoError(t, db.Create(&p).Error)

	lister := &fakeLister{pools: []models.Pool{p}}
	w := NewWatcher(db, source, lister, chainID, time.Second, 1000, zerolog.Nop())
	return w, db, &p
}

func stakeLog(eventType, account, txHash string, logIndex uint, block uint64, amount int64, at time.Time) chain.StakeLog {
	return chain.StakeLog{
		EventType:   eventType,
		Account:     account,
		Amount:      big.NewInt(amount),
		TxHash:      txHash,
		LogIndex:    logIndex,
		BlockNumber: block,
		BlockTime:   at,
	}
}

func TestScanOnceIngestsLogs(t *testing.T) {
	fanAddr := "0x2222222222222222222222222222222222222222"
	now := time.Now().UTC()

	source := &fakeSource{
		head: 120,
		logs: []chain.StakeLog{
			stakeLog("stake", fanAddr, "0xaa", 0, 100, 100, now.Add(-2*time.Hour)),
			stakeLog("stake", fanAddr, "0xab", 1, 105, 50, now.Add(-90*time.Minute)),
			stakeLog("unstake", fanAddr, "0xac", 0, 110, 30, now.Add(-time.Hour)),
		},
	}
	w, db, p := setupWatcher(t, source)

	require.NoError(t, w.ScanOnce(context.Background()))

	// Events landed in the ledger
	var events []models.StakeEvent
	require.NoError(t, db.Where("pool_id = ?", p.ID).Order("id ASC").Find(&events).Error)
	require.Len(t, events, 3)
	assert.Equal(t, "stake", events[0].EventType)
	assert.Equal(t, "100", events[0].Amount)

	// Materialized view tracks the net position
	var row models.StakedPool
	require.NoError(t, db.Where("pool_id = ?", p.ID).First(&row).Error)
	assert.Equal(t, "120", row.StakeAmount)

	// Cached total follows
	var stored models.Pool
	require.NoError(t, db.First(&stored, p.ID).Error)
	assert.Equal(t, "120", stored.TotalStaked)

	// Cursor advanced to the scanned head
	var cursor models.IngestCursor
	require.NoError(t, db.Where("pool_id = ?", p.ID).First(&cursor).Error)
	assert.Equal(t, uint64(120), cursor.LastBlock)
}

func TestScanOnceIsIdempotent(t *testing.T) {
	fanAddr := "0x2222222222222222222222222222222222222222"
	now := time.Now().UTC()

	source := &fakeSource{
		head: 120,
		logs: []chain.StakeLog{
			stakeLog("stake", fanAddr, "0xaa", 0, 100, 100, now.Add(-time.Hour)),
		},
	}
	w, db, p := setupWatcher(t, source)

	require.NoError(t, w.ScanOnce(context.Background()))

	// Rewind the cursor to force the same range to be re-scanned
	require.NoError(t, db.Model(&models.IngestCursor{}).
		Where("pool_id = ?", p.ID).
		Update("last_block", 0).Error)

	require.NoError(t, w.ScanOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.StakeEvent{}).Where("pool_id = ?", p.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The view was not double-counted either
	var row models.StakedPool
	require.NoError(t, db.Where("pool_id = ?", p.ID).First(&row).Error)
	assert.Equal(t, "100", row.StakeAmount)
}

func TestClaimLogsDoNotMoveStake(t *testing.T) {
	fanAddr := "0x2222222222222222222222222222222222222222"
	now := time.Now().UTC()

	source := &fakeSource{
		head: 120,
		logs: []chain.StakeLog{
			stakeLog("stake", fanAddr, "0xaa", 0, 100, 100, now.Add(-2*time.Hour)),
			stakeLog("claim", fanAddr, "0xab", 0, 105, 40, now.Add(-time.Hour)),
		},
	}
	w, db, p := setupWatcher(t, source)

	require.NoError(t, w.ScanOnce(context.Background()))

	var row models.StakedPool
	require.NoError(t, db.Where("pool_id = ?", p.ID).First(&row).Error)
	assert.Equal(t, "100", row.StakeAmount)

	var stored models.Pool
	require.NoError(t, db.First(&stored, p.ID).Error)
	assert.Equal(t, "100", stored.TotalStaked)

	// The claim itself is still on the ledger
	var count int64
	require.NoError(t, db.Model(&models.StakeEvent{}).
		Where("pool_id = ? AND event_type = ?", p.ID, models.EventTypeClaim).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUnknownFanWalletIsCreated(t *testing.T) {
	fanAddr := "0x2222222222222222222222222222222222222222"
	now := time.Now().UTC()

	source := &fakeSource{
		head: 120,
		logs: []chain.StakeLog{
			stakeLog("stake", fanAddr, "0xaa", 0, 100, 100, now),
		},
	}
	w, db, _ := setupWatcher(t, source)

	require.NoError(t, w.ScanOnce(context.Background()))

	var wallet models.Wallet
	require.NoError(t, db.Where("address = ?", fanAddr).First(&wallet).Error)
	assert.Nil(t, wallet.UserID)
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/fanstake/fanstake/internal/metrics"
)

var (
	// ErrChainUnavailable means the RPC endpoint could not be reached or
	// timed out. Callers must never treat it as "contract absent".
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrUnknownChain means no RPC endpoint is configured for the chain.
	ErrUnknownChain = errors.New("unknown chain")
)

// Verifier answers questions about on-chain state. It is injected into the
// pool lifecycle manager and the event watcher so reconciliation logic can
// be tested against a fake chain.
type Verifier interface {
	// ContractExistsAt reports whether executable code is present at the
	// address on the given chain right now.
	ContractExistsAt(ctx context.Context, address string, chainID uint64) (bool, error)

	// ReadOnChainValue performs a typed read against a pool contract,
	// e.g. stakeOf or pendingReward.
	ReadOnChainValue(ctx context.Context, address string, chainID uint64, method string, args ...interface{}) ([]interface{}, error)

	// GetPoolForCreator asks the factory registry for the creator's pool
	// address. The empty string means the factory returned the zero
	// address, the canonical "no pool" sentinel.
	GetPoolForCreator(ctx context.Context, creator string, chainID uint64) (string, error)
}

// StakeLog is a normalized staking event read from a pool contract.
type StakeLog struct {
	EventType   string
	Account     string
	Amount      *big.Int
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	BlockTime   time.Time
}

// Client connects one ethclient per configured chain.
type Client struct {
	clients   map[uint64]*ethclient.Client
	factories map[uint64]common.Address
	timeout   time.Duration
}

// NewClient dials every configured endpoint. Dial is lazy for HTTP
// endpoints, so a down chain surfaces on first use, not at startup.
func NewClient(endpoints map[uint64]string, factories map[uint64]string, timeout time.Duration) (*Client, error) {
	clients := make(map[uint64]*ethclient.Client, len(endpoints))
	for chainID, url := range endpoints {
		ec, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial RPC endpoint for chain %d: %w", chainID, err)
		}
		clients[chainID] = ec
	}

	factoryAddrs := make(map[uint64]common.Address, len(factories))
	for chainID, addr := range factories {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid factory address %q for chain %d", addr, chainID)
		}
		factoryAddrs[chainID] = common.HexToAddress(addr)
	}

	return &Client{
		clients:   clients,
		factories: factoryAddrs,
		timeout:   timeout,
	}, nil
}

// Close releases all underlying RPC connections.
func (c *Client) Close() {
	for _, ec := range c.clients {
		ec.Close()
	}
}

func (c *Client) clientFor(chainID uint64) (*ethclient.Client, error) {
	ec, ok := c.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: no RPC endpoint configured for chain %d", ErrUnknownChain, chainID)
	}
	return ec, nil
}

// ContractExistsAt implements Verifier.
func (c *Client) ContractExistsAt(ctx context.Context, address string, chainID uint64) (bool, error) {
	ec, err := c.clientFor(chainID)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	code, err := ec.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		metrics.RecordChainRequest("getCode", "failed")
		return false, fmt.Errorf("%w: getCode on chain %d: %v", ErrChainUnavailable, chainID, err)
	}

	metrics.RecordChainRequest("getCode", "success")
	return len(code) > 0, nil
}

// ReadOnChainValue implements Verifier.
func (c *Client) ReadOnChainValue(ctx context.Context, address string, chainID uint64, method string, args ...interface{}) ([]interface{}, error) {
	ec, err := c.clientFor(chainID)
	if err != nil {
		return nil, err
	}

	data, err := poolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contract := common.HexToAddress(address)
	raw, err := ec.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		metrics.RecordChainRequest(method, "failed")
		return nil, fmt.Errorf("%w: %s on chain %d: %v", ErrChainUnavailable, method, chainID, err)
	}

	metrics.RecordChainRequest(method, "success")

	out, err := poolABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}

// GetPoolForCreator implements Verifier.
func (c *Client) GetPoolForCreator(ctx context.Context, creator string, chainID uint64) (string, error) {
	ec, err := c.clientFor(chainID)
	if err != nil {
		return "", err
	}

	factory, ok := c.factories[chainID]
	if !ok {
		return "", fmt.Errorf("%w: no factory configured for chain %d", ErrUnknownChain, chainID)
	}

	data, err := factoryABI.Pack("getPoolForCreator", common.HexToAddress(creator))
	if err != nil {
		return "", fmt.Errorf("failed to pack getPoolForCreator call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := ec.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		metrics.RecordChainRequest("getPoolForCreator", "failed")
		return "", fmt.Errorf("%w: getPoolForCreator on chain %d: %v", ErrChainUnavailable, chainID, err)
	}

	metrics.RecordChainRequest("getPoolForCreator", "success")

	out, err := factoryABI.Unpack("getPoolForCreator", raw)
	if err != nil {
		return "", fmt.Errorf("failed to unpack getPoolForCreator result: %w", err)
	}

	pool := out[0].(common.Address)
	if pool == (common.Address{}) {
		return "", nil
	}
	return pool.Hex(), nil
}

// BlockNumber returns the current head of the given chain.
func (c *Client) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	ec, err := c.clientFor(chainID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	head, err := ec.BlockNumber(ctx)
	if err != nil {
		metrics.RecordChainRequest("blockNumber", "failed")
		return 0, fmt.Errorf("%w: blockNumber on chain %d: %v", ErrChainUnavailable, chainID, err)
	}

	metrics.RecordChainRequest("blockNumber", "success")
	return head, nil
}

// FilterStakeLogs reads staking events emitted by a pool contract in the
// given block range, normalized into StakeLogs ordered as returned by the
// node (ascending block, then log index).
func (c *Client) FilterStakeLogs(ctx context.Context, address string, chainID uint64, fromBlock, toBlock uint64) ([]StakeLog, error) {
	ec, err := c.clientFor(chainID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(address)},
		Topics:    [][]common.Hash{{stakedTopic, unstakedTopic, rewardClaimedTopic}},
	}

	logs, err := ec.FilterLogs(ctx, query)
	if err != nil {
		metrics.RecordChainRequest("getLogs", "failed")
		return nil, fmt.Errorf("%w: getLogs on chain %d: %v", ErrChainUnavailable, chainID, err)
	}

	metrics.RecordChainRequest("getLogs", "success")

	// Resolve block timestamps so ledger rows carry on-chain time, not
	// observation time.
	blockTimes := make(map[uint64]time.Time)
	stakeLogs := make([]StakeLog, 0, len(logs))
	for _, lg := range logs {
		sl, err := decodeStakeLog(lg)
		if err != nil {
			return nil, err
		}

		at, ok := blockTimes[lg.BlockNumber]
		if !ok {
			header, err := ec.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				metrics.RecordChainRequest("getHeader", "failed")
				return nil, fmt.Errorf("%w: header %d on chain %d: %v", ErrChainUnavailable, lg.BlockNumber, chainID, err)
			}
			at = time.Unix(int64(header.Time), 0).UTC()
			blockTimes[lg.BlockNumber] = at
		}
		sl.BlockTime = at

		stakeLogs = append(stakeLogs, sl)
	}
	return stakeLogs, nil
}

// decodeStakeLog maps a raw log onto a StakeLog. The account is the first
// indexed topic; the amount is the sole data word.
func decodeStakeLog(lg types.Log) (StakeLog, error) {
	if len(lg.Topics) < 2 {
		return StakeLog{}, fmt.Errorf("malformed stake log in tx %s: missing account topic", lg.TxHash.Hex())
	}

	var eventType string
	switch lg.Topics[0] {
	case stakedTopic:
		eventType = "stake"
	case unstakedTopic:
		eventType = "unstake"
	case rewardClaimedTopic:
		eventType = "claim"
	default:
		return StakeLog{}, fmt.Errorf("unexpected log topic %s in tx %s", lg.Topics[0].Hex(), lg.TxHash.Hex())
	}

	if len(lg.Data) < 32 {
		return StakeLog{}, fmt.Errorf("malformed stake log in tx %s: short data", lg.TxHash.Hex())
	}

	return StakeLog{
		EventType:   eventType,
		Account:     common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		Amount:      new(big.Int).SetBytes(lg.Data[:32]),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}, nil
}

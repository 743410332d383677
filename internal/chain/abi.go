package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABI fragments for the two contracts this service reads. The
// factory maps a creator address to their pool contract; the pool exposes
// per-account reads and emits the staking events the watcher ingests.
const factoryABIJSON = `[
	{"type":"function","name":"getPoolForCreator","stateMutability":"view",
	 "inputs":[{"name":"creator","type":"address"}],
	 "outputs":[{"name":"pool","type":"address"}]}
]`

const poolABIJSON = `[
	{"type":"function","name":"stakeOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"amount","type":"uint256"}]},
	{"type":"function","name":"totalStaked","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"amount","type":"uint256"}]},
	{"type":"function","name":"pendingReward","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"amount","type":"uint256"}]},
	{"type":"event","name":"Staked","anonymous":false,
	 "inputs":[{"name":"account","type":"address","indexed":true},
	           {"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Unstaked","anonymous":false,
	 "inputs":[{"name":"account","type":"address","indexed":true},
	           {"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardClaimed","anonymous":false,
	 "inputs":[{"name":"account","type":"address","indexed":true},
	           {"name":"amount","type":"uint256","indexed":false}]}
]`

var (
	factoryABI abi.ABI
	poolABI    abi.ABI

	stakedTopic        common.Hash
	unstakedTopic      common.Hash
	rewardClaimedTopic common.Hash
)

func init() {
	var err error
	factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		panic(err)
	}
	poolABI, err = abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic(err)
	}

	stakedTopic = crypto.Keccak256Hash([]byte("Staked(address,uint256)"))
	unstakedTopic = crypto.Keccak256Hash([]byte("Unstaked(address,uint256)"))
	rewardClaimedTopic = crypto.Keccak256Hash([]byte("RewardClaimed(address,uint256)"))
}

package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// aggregatorABI is the subset of a price aggregator contract the feed uses.
const aggregatorABI = `[{"inputs":[],"name":"latestAnswer","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"}]`

var _ domain.PriceFeed = (*ChainFeed)(nil)

// ChainFeed reads latestAnswer() from an on-chain aggregator contract.
type ChainFeed struct {
	caller   ethereum.ContractCaller
	contract common.Address
	abi      abi.ABI
	closer   func()
}

// DialChainFeed connects to rpcURL and reads from contract.
func DialChainFeed(ctx context.Context, rpcURL string, contract common.Address) (*ChainFeed, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("oracle: dial %s: %w", rpcURL, err)
	}
	f, err := NewChainFeed(client, contract)
	if err != nil {
		client.Close()
		return nil, err
	}
	f.closer = client.Close
	return f, nil
}

// NewChainFeed reads from contract through caller.
func NewChainFeed(caller ethereum.ContractCaller, contract common.Address) (*ChainFeed, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse aggregator abi: %w", err)
	}
	return &ChainFeed{caller: caller, contract: contract, abi: parsed}, nil
}

// CurrentPrice implements domain.PriceFeed against the latest block.
func (f *ChainFeed) CurrentPrice(ctx context.Context) (int64, error) {
	input, err := f.abi.Pack("latestAnswer")
	if err != nil {
		return 0, fmt.Errorf("oracle: pack latestAnswer: %w", err)
	}
	out, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.contract, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: call latestAnswer on %s: %w", f.contract.Hex(), err)
	}
	values, err := f.abi.Unpack("latestAnswer", out)
	if err != nil {
		return 0, fmt.Errorf("oracle: unpack latestAnswer: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("oracle: latestAnswer returned %d values", len(values))
	}
	answer, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("oracle: latestAnswer returned %T", values[0])
	}
	if !answer.IsInt64() {
		return 0, fmt.Errorf("oracle: latestAnswer %s overflows int64", answer)
	}
	return answer.Int64(), nil
}

// Close releases the RPC connection if the feed dialed it.
func (f *ChainFeed) Close() {
	if f.closer != nil {
		f.closer()
	}
}

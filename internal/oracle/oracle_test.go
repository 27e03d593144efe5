package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	s := NewStatic(5000)
	p, err := s.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), p)

	s.SetPrice(6000)
	p, err = s.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6000), p)
}

type fakeCaller struct {
	answer *big.Int
	err    error
	msg    ethereum.CallMsg
}

func (c *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.msg = msg
	if c.err != nil {
		return nil, c.err
	}
	return math.U256Bytes(new(big.Int).Set(c.answer)), nil
}

func TestChainFeed(t *testing.T) {
	contract := common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
	caller := &fakeCaller{answer: big.NewInt(6000)}
	f, err := NewChainFeed(caller, contract)
	require.NoError(t, err)

	p, err := f.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6000), p)
	require.NotNil(t, caller.msg.To)
	assert.Equal(t, contract, *caller.msg.To)
	// keccak256("latestAnswer()")[:4]
	assert.Equal(t, []byte{0x50, 0xd2, 0x5b, 0xcd}, caller.msg.Data)

	caller.answer = big.NewInt(-42)
	p, err = f.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-42), p)

	caller.answer = new(big.Int).Lsh(big.NewInt(1), 100)
	_, err = f.CurrentPrice(context.Background())
	require.Error(t, err)

	caller.err = errors.New("rpc down")
	_, err = f.CurrentPrice(context.Background())
	require.ErrorContains(t, err, "rpc down")
}

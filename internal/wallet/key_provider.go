package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// keyBackend is the subset of ethclient used by KeyProvider.
type keyBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyProvider is a development wallet that signs with a local private key
// and submits through a node.
type KeyProvider struct {
	backend keyBackend
	key     *ecdsa.PrivateKey
	address common.Address
	closeFn func()
}

func NewKeyProvider(backend keyBackend, privateKeyHex string, closeFn func()) (*KeyProvider, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is required")
	}
	pk, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &KeyProvider{
		backend: backend,
		key:     pk,
		address: crypto.PubkeyToAddress(pk.PublicKey),
		closeFn: closeFn,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (p *KeyProvider) Accounts(context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.backend.ChainID(ctx)
}

func (p *KeyProvider) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if req.From != (common.Address{}) && req.From != p.address {
		return common.Hash{}, fmt.Errorf("unknown account %s", req.From.Hex())
	}

	chainID, err := p.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch chain id: %w", err)
	}
	nonce, err := p.backend.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	to := req.To
	gas, err := p.backend.EstimateGas(ctx, ethereum.CallMsg{From: p.address, To: &to, Value: req.Value})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	head, err := p.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch head: %w", err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tip, err := p.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggest tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     req.Value,
		})
	} else {
		price, err := p.backend.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    req.Value,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := p.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}

func (p *KeyProvider) Close() {
	if p.closeFn != nil {
		p.closeFn()
	}
}

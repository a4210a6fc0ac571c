package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ENSRegistryAddress is the mainnet ENS registry.
var ENSRegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

var ErrNameNotFound = errors.New("ens name not found")

// Resolver turns a payment destination into an address.
type Resolver interface {
	Resolve(ctx context.Context, name string) (common.Address, error)
}

// HexResolver accepts only hex addresses.
type HexResolver struct{}

func (HexResolver) Resolve(_ context.Context, name string) (common.Address, error) {
	if !common.IsHexAddress(name) {
		return common.Address{}, fmt.Errorf("invalid address %q", name)
	}
	return common.HexToAddress(name), nil
}

const ensABI = `[
	{"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`

// ENSResolver resolves names through the ENS registry and the name's resolver
// contract. Hex addresses pass through unchanged.
type ENSResolver struct {
	caller   ethereum.ContractCaller
	registry common.Address
	abi      abi.ABI
}

func NewENSResolver(caller ethereum.ContractCaller, registry common.Address) (*ENSResolver, error) {
	parsed, err := abi.JSON(strings.NewReader(ensABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &ENSResolver{caller: caller, registry: registry, abi: parsed}, nil
}

func (r *ENSResolver) Resolve(ctx context.Context, name string) (common.Address, error) {
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	node := NameHash(name)

	resolver, err := r.callAddress(ctx, r.registry, "resolver", node)
	if err != nil {
		return common.Address{}, fmt.Errorf("lookup resolver for %s: %w", name, err)
	}
	if resolver == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}

	addr, err := r.callAddress(ctx, resolver, "addr", node)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve %s: %w", name, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}
	return addr, nil
}

func (r *ENSResolver) callAddress(ctx context.Context, contract common.Address, method string, node [32]byte) (common.Address, error) {
	data, err := r.abi.Pack(method, node)
	if err != nil {
		return common.Address{}, err
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return common.Address{}, err
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("unexpected %s output", method)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s output type %T", method, values[0])
	}
	return addr, nil
}

// NameHash implements the ENS namehash over a lowercased name.
func NameHash(name string) [32]byte {
	var node [32]byte
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		copy(node[:], crypto.Keccak256(node[:], label))
	}
	return node
}

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// NetworkRegistry resolves network ids to their static description.
type NetworkRegistry struct {
	networks map[string]model.Network
}

type networksFile struct {
	Networks []model.Network `yaml:"networks"`
}

// LoadNetworks reads the YAML registry at path.
func LoadNetworks(path string) (*NetworkRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read networks file %s: %w", path, err)
	}
	return ParseNetworks(raw)
}

// ParseNetworks builds a registry from YAML bytes.
func ParseNetworks(raw []byte) (*NetworkRegistry, error) {
	var f networksFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse networks yaml: %w", err)
	}
	return NewNetworkRegistry(f.Networks...)
}

func NewNetworkRegistry(networks ...model.Network) (*NetworkRegistry, error) {
	r := &NetworkRegistry{networks: make(map[string]model.Network, len(networks))}
	for _, n := range networks {
		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" {
			return nil, fmt.Errorf("network entry without id")
		}
		switch n.Type {
		case model.NetworkTypeEVM, model.NetworkTypeBTC, model.NetworkTypeTBTC, model.NetworkTypeSolana:
		default:
			return nil, fmt.Errorf("network %s: unknown type %q", n.ID, n.Type)
		}
		if _, dup := r.networks[n.ID]; dup {
			return nil, fmt.Errorf("network %s declared twice", n.ID)
		}
		if n.Type == model.NetworkTypeEVM {
			if n.ChainID <= 0 {
				return nil, fmt.Errorf("network %s: evm network requires chain_id", n.ID)
			}
			if err := checkContract(n.ID, "payment_contract", n.PaymentContract); err != nil {
				return nil, err
			}
			if err := checkContract(n.ID, "liquidation_contract", n.LiquidationContract); err != nil {
				return nil, err
			}
		}
		for i := range n.Tokens {
			if n.Tokens[i].NetworkID == "" {
				n.Tokens[i].NetworkID = n.ID
			}
		}
		r.networks[n.ID] = n
	}
	return r, nil
}

// checkContract accepts an unset contract but rejects the zero address.
func checkContract(networkID, field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("network %s: %s %q is not an EVM address", networkID, field, raw)
	}
	if common.HexToAddress(raw) == (common.Address{}) {
		return fmt.Errorf("network %s: %s is the zero address", networkID, field)
	}
	return nil
}

// Network returns the network with the given id.
func (r *NetworkRegistry) Network(id string) (model.Network, error) {
	n, ok := r.networks[id]
	if !ok {
		return model.Network{}, fmt.Errorf("network %q not in registry", id)
	}
	return n, nil
}

// Networks lists all networks of the given type sorted by id. An empty type lists every network.
func (r *NetworkRegistry) Networks(t model.NetworkType) []model.Network {
	out := make([]model.Network, 0, len(r.networks))
	for _, n := range r.networks {
		if t == "" || n.Type == t {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Token looks up a token by network id and address (case-insensitive).
func (r *NetworkRegistry) Token(networkID, address string) (model.Token, error) {
	n, err := r.Network(networkID)
	if err != nil {
		return model.Token{}, err
	}
	for _, tok := range n.Tokens {
		if strings.EqualFold(tok.Address, address) {
			return tok, nil
		}
	}
	return model.Token{}, fmt.Errorf("token %s not registered on %s", address, networkID)
}

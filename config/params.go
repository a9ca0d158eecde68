package config

import (
	"fmt"

	"github.com/btpcsuite/btpcd/consensus"
	"github.com/btpcsuite/btpcd/wire"
)

// Network describes one deployment of the chain: its wire magic,
// default ports, genesis parameters, and consensus rules.
type Network struct {
	Name string

	// Magic tags every wire message on this network.
	Magic uint32

	DefaultPort    uint16
	DefaultRPCPort uint16

	// GenesisTimestamp pins the genesis header.
	GenesisTimestamp uint32

	// InitialDifficulty is the difficulty in force from the genesis
	// until the first retarget.
	InitialDifficulty uint64

	Consensus consensus.Params
}

// MainNet is the production network.
var MainNet = Network{
	Name:              "mainnet",
	Magic:             wire.MainNet,
	DefaultPort:       8333,
	DefaultRPCPort:    8334,
	GenesisTimestamp:  1231006505,
	InitialDifficulty: 1,
	Consensus:         consensus.MainNetParams,
}

// TestNet is the public test network.
var TestNet = Network{
	Name:              "testnet",
	Magic:             wire.TestNet,
	DefaultPort:       18333,
	DefaultRPCPort:    18334,
	GenesisTimestamp:  1296688602,
	InitialDifficulty: 1,
	Consensus:         consensus.MainNetParams,
}

// RegTest is a local network with a short retarget interval.
var RegTest = Network{
	Name:              "regtest",
	Magic:             wire.RegTest,
	DefaultPort:       18444,
	DefaultRPCPort:    18445,
	GenesisTimestamp:  1296688602,
	InitialDifficulty: 1,
	Consensus:         consensus.RegTestParams,
}

// NetworkByName resolves a network flag value.
func NetworkByName(name string) (*Network, error) {
	switch name {
	case "mainnet", "":
		return &MainNet, nil
	case "testnet":
		return &TestNet, nil
	case "regtest":
		return &RegTest, nil
	}
	return nil, fmt.Errorf("unknown network %q", name)
}

// GenesisHeader builds the deterministic first header of the network.
func (n *Network) GenesisHeader() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:   1,
		Timestamp: n.GenesisTimestamp,
		Bits: consensus.TargetToBits(
			consensus.DifficultyToTarget(n.InitialDifficulty)),
	}
}

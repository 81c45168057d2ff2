// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// MockService is an in-memory Service used by worker and sync engine unit
// tests, so they exercise the same interface a real store implements
// without paying for a database.
type MockService struct {
	mu sync.RWMutex

	blocksByHeight map[uint32]types.Block
	heightByHash   map[types.ID32]uint32
	latest         uint32

	transmissions map[types.TransmissionID]bool

	provider committee.Provider

	// WellFormed, when non-nil, overrides the default (always-ok) checks.
	WellFormed func(id types.TransmissionID, tm types.Transmission) error
}

// NewMockService constructs a MockService seeded with a genesis block at
// height 0.
func NewMockService(genesis types.Block, provider committee.Provider) *MockService {
	m := &MockService{
		blocksByHeight: map[uint32]types.Block{0: genesis},
		heightByHash:   map[types.ID32]uint32{genesis.Hash: 0},
		transmissions:  map[types.TransmissionID]bool{},
		provider:       provider,
	}
	return m
}

func (m *MockService) LatestRound() uint64 { return uint64(m.LatestBlockHeight()) }

func (m *MockService) LatestBlockHeight() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

func (m *MockService) LatestBlockHeader() types.BlockHeader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocksByHeight[m.latest].Header
}

func (m *MockService) LatestBlockHash() types.ID32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocksByHeight[m.latest].Hash
}

func (m *MockService) LatestCumulativeWeight() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cw := m.blocksByHeight[m.latest].Header.CumulativeWeight
	if cw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cw)
}

func (m *MockService) ContainsBlockHash(hash types.ID32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.heightByHash[hash]
	return ok
}

func (m *MockService) GetBlockHash(height uint32) (types.ID32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocksByHeight[height]
	return b.Hash, ok
}

func (m *MockService) GetBlock(height uint32) (types.Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocksByHeight[height]
	return b, ok
}

func (m *MockService) GetBlocks(start, end uint32) ([]types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if end < start {
		return nil, fmt.Errorf("ledger: invalid range [%d,%d]", start, end)
	}
	out := make([]types.Block, 0, end-start+1)
	for h := start; h <= end; h++ {
		b, ok := m.blocksByHeight[h]
		if !ok {
			return out, fmt.Errorf("ledger: missing block at height %d", h)
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MockService) ContainsTransmission(id types.TransmissionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transmissions[id]
}

// MarkTransmission lets tests simulate a transmission becoming known to
// storage or a proposed batch independent of the worker's ready queue.
func (m *MockService) MarkTransmission(id types.TransmissionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transmissions[id] = true
}

func (m *MockService) CheckSolutionBasic(types.TransmissionID, []byte) error  { return nil }
func (m *MockService) CheckTransactionBasic(types.TransmissionID, []byte) error { return nil }

func (m *MockService) EnsureTransmissionIsWellFormed(id types.TransmissionID, tm types.Transmission) error {
	if m.WellFormed != nil {
		return m.WellFormed(id, tm)
	}
	if id.Variant != tm.Variant {
		return fmt.Errorf("ledger: variant mismatch")
	}
	return nil
}

func (m *MockService) CurrentCommittee() (*committee.Committee, error) {
	return m.provider.CurrentCommittee()
}

func (m *MockService) GetCommitteeLookbackForRound(round uint64) (*committee.Committee, error) {
	return m.provider.GetCommitteeLookbackForRound(round)
}

func (m *MockService) AddNextBlock(b types.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tip := m.blocksByHeight[m.latest]
	if b.Header.Height != m.latest+1 {
		return fmt.Errorf("ledger: expected height %d, got %d", m.latest+1, b.Header.Height)
	}
	if b.Header.PreviousBlockHash != tip.Hash {
		return fmt.Errorf("ledger: previous hash mismatch at height %d", b.Header.Height)
	}
	m.blocksByHeight[b.Header.Height] = b
	m.heightByHash[b.Hash] = b.Header.Height
	m.latest = b.Header.Height
	for _, id := range b.Transmissions {
		m.transmissions[id] = true
	}
	return nil
}

func (m *MockService) RevertToBlockHeight(h uint32) ([]types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h > m.latest {
		return nil, fmt.Errorf("ledger: cannot revert to height %d above latest %d", h, m.latest)
	}
	var removed []types.Block
	for height := m.latest; height > h; height-- {
		b := m.blocksByHeight[height]
		removed = append(removed, b)
		delete(m.blocksByHeight, height)
		delete(m.heightByHash, b.Hash)
	}
	m.latest = h
	return removed, nil
}

// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package store provides a minimal, production-shaped ledger.Service
// implementation over goleveldb: a block log keyed by height, a
// block-hash-to-height secondary index, and a presence set recording every
// transmission id committed to a block. The on-disk encoding is
// intentionally simple (gob records, binary.BigEndian keys) — this is a
// reference/test backend, not a wire-compatible production store.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math/big"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

var (
	blockPrefix       = []byte("b:")
	hashIndexPrefix   = []byte("h:")
	transmissionPrefix = []byte("t:")
)

// Store is a goleveldb-backed ledger.Service.
type Store struct {
	db *leveldb.DB

	mu     sync.RWMutex
	latest uint32
	hasAny bool

	provider committee.Provider
}

// Open opens (creating if absent) a Store at path, seeded with genesis if
// the database is empty.
func Open(path string, genesis types.Block, provider committee.Provider) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db, provider: provider}

	latest, ok, err := s.loadLatestHeight()
	if err != nil {
		db.Close()
		return nil, err
	}
	if ok {
		s.latest = latest
		s.hasAny = true
		return s, nil
	}
	if err := s.putBlock(genesis); err != nil {
		db.Close()
		return nil, err
	}
	s.latest = genesis.Header.Height
	s.hasAny = true
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func blockKey(height uint32) []byte {
	k := make([]byte, len(blockPrefix)+4)
	copy(k, blockPrefix)
	binary.BigEndian.PutUint32(k[len(blockPrefix):], height)
	return k
}

func hashIndexKey(hash types.ID32) []byte {
	return append(append([]byte{}, hashIndexPrefix...), hash[:]...)
}

func transmissionKey(id types.TransmissionID) []byte {
	return append(append([]byte{}, transmissionPrefix...), id.ID[:]...)
}

func encodeBlock(b types.Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlock(data []byte) (types.Block, error) {
	var b types.Block
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b)
	return b, err
}

func (s *Store) putBlock(b types.Block) error {
	data, err := encodeBlock(b)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Header.Height), data)
	batch.Put(hashIndexKey(b.Hash), heightBytes(b.Header.Height))
	for _, id := range b.Transmissions {
		batch.Put(transmissionKey(id), []byte{1})
	}
	return s.db.Write(batch, nil)
}

func heightBytes(h uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, h)
	return b
}

func (s *Store) loadLatestHeight() (uint32, bool, error) {
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()
	var max uint32
	found := false
	for iter.Next() {
		h := binary.BigEndian.Uint32(iter.Key()[len(blockPrefix):])
		if !found || h > max {
			max = h
			found = true
		}
	}
	return max, found, iter.Error()
}

func (s *Store) getBlock(height uint32) (types.Block, bool) {
	data, err := s.db.Get(blockKey(height), nil)
	if err != nil {
		return types.Block{}, false
	}
	b, err := decodeBlock(data)
	if err != nil {
		return types.Block{}, false
	}
	return b, true
}

func (s *Store) LatestRound() uint64 {
	return uint64(s.LatestBlockHeight())
}

func (s *Store) LatestBlockHeight() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Store) LatestBlockHeader() types.BlockHeader {
	b, _ := s.getBlock(s.LatestBlockHeight())
	return b.Header
}

func (s *Store) LatestBlockHash() types.ID32 {
	b, _ := s.getBlock(s.LatestBlockHeight())
	return b.Hash
}

func (s *Store) LatestCumulativeWeight() *big.Int {
	h := s.LatestBlockHeader()
	if h.CumulativeWeight == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(h.CumulativeWeight)
}

func (s *Store) ContainsBlockHash(hash types.ID32) bool {
	_, err := s.db.Get(hashIndexKey(hash), nil)
	return err == nil
}

func (s *Store) GetBlockHash(height uint32) (types.ID32, bool) {
	b, ok := s.getBlock(height)
	return b.Hash, ok
}

func (s *Store) GetBlock(height uint32) (types.Block, bool) {
	return s.getBlock(height)
}

func (s *Store) GetBlocks(start, end uint32) ([]types.Block, error) {
	if end < start {
		return nil, fmt.Errorf("store: invalid range [%d,%d]", start, end)
	}
	out := make([]types.Block, 0, end-start+1)
	for h := start; h <= end; h++ {
		b, ok := s.getBlock(h)
		if !ok {
			return out, fmt.Errorf("store: missing block at height %d", h)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) ContainsTransmission(id types.TransmissionID) bool {
	_, err := s.db.Get(transmissionKey(id), nil)
	return err == nil
}

func (s *Store) CheckSolutionBasic(types.TransmissionID, []byte) error   { return nil }
func (s *Store) CheckTransactionBasic(types.TransmissionID, []byte) error { return nil }

func (s *Store) EnsureTransmissionIsWellFormed(id types.TransmissionID, tm types.Transmission) error {
	if id.Variant != tm.Variant {
		return fmt.Errorf("store: variant mismatch for transmission %x", id.ID)
	}
	return nil
}

func (s *Store) CurrentCommittee() (*committee.Committee, error) {
	return s.provider.CurrentCommittee()
}

func (s *Store) GetCommitteeLookbackForRound(round uint64) (*committee.Committee, error) {
	return s.provider.GetCommitteeLookbackForRound(round)
}

func (s *Store) AddNextBlock(b types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tip, ok := s.getBlock(s.latest)
	if !ok && s.hasAny {
		return fmt.Errorf("store: missing tip block at height %d", s.latest)
	}
	if b.Header.Height != s.latest+1 {
		return fmt.Errorf("store: expected height %d, got %d", s.latest+1, b.Header.Height)
	}
	if b.Header.PreviousBlockHash != tip.Hash {
		return fmt.Errorf("store: previous hash mismatch at height %d", b.Header.Height)
	}
	if err := s.putBlock(b); err != nil {
		return err
	}
	s.latest = b.Header.Height
	return nil
}

func (s *Store) RevertToBlockHeight(h uint32) ([]types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h > s.latest {
		return nil, fmt.Errorf("store: cannot revert to height %d above latest %d", h, s.latest)
	}
	var removed []types.Block
	batch := new(leveldb.Batch)
	for height := s.latest; height > h; height-- {
		b, ok := s.getBlock(height)
		if !ok {
			break
		}
		removed = append(removed, b)
		batch.Delete(blockKey(height))
		batch.Delete(hashIndexKey(b.Hash))
		for _, id := range b.Transmissions {
			batch.Delete(transmissionKey(id))
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return nil, err
	}
	s.latest = h
	return removed, nil
}

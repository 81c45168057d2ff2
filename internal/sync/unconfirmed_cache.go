// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package sync implements the ledger sync engine: the peer-state tracker,
// block-request scheduler, fork detection and revert, and the
// unconfirmed-block fast-forward path.
package sync

import (
	"sync"

	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// unconfirmedCache is a bounded, insertion-ordered mapping from
// previous_block_hash to Block. The oldest entry is evicted whenever an
// insert would exceed capacity.
type unconfirmedCache struct {
	mu       sync.Mutex
	capacity int
	order    []types.ID32
	items    map[types.ID32]types.Block
}

func newUnconfirmedCache(capacity int) *unconfirmedCache {
	return &unconfirmedCache{capacity: capacity, items: make(map[types.ID32]types.Block)}
}

// Insert adds block keyed by its previous_block_hash, evicting the oldest
// entry if the cache is full. Re-inserting an existing key refreshes its
// value but not its position.
func (c *unconfirmedCache) Insert(block types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := block.Header.PreviousBlockHash
	if _, exists := c.items[key]; exists {
		c.items[key] = block
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = block
	c.order = append(c.order, key)
}

// Get looks up the block queued behind previousHash.
func (c *unconfirmedCache) Get(previousHash types.ID32) (types.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.items[previousHash]
	return b, ok
}

// Remove deletes the entry keyed by previousHash, if present.
func (c *unconfirmedCache) Remove(previousHash types.ID32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[previousHash]; !ok {
		return
	}
	delete(c.items, previousHash)
	for i, k := range c.order {
		if k == previousHash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear empties the cache entirely (used by stall recovery).
func (c *unconfirmedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.items = make(map[types.ID32]types.Block)
}

// Len reports the number of cached blocks.
func (c *unconfirmedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

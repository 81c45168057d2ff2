// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package locator builds block locators and performs the fork-math
// (common-ancestor search, cumulative-weight comparison) the sync engine
// uses to avoid downloading blocks just to find where two chains diverge.
package locator

import (
	"math/big"

	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// Build constructs block locators for the local chain: the latest height,
// then a logarithmically-thinning tail (step doubling every entry) reaching
// genesis.
func Build(svc ledger.Service) *types.BlockLocators {
	locators := types.NewBlockLocators()
	latest := svc.LatestBlockHeight()

	// The walk goes from the tip down; entries are inserted afterwards from
	// the lowest height up, so Heights is strictly increasing.
	var heights []uint32
	var entries []types.LocatorEntry
	step := uint32(1)
	height := latest
	for {
		hash, ok := svc.GetBlockHash(height)
		if !ok {
			break
		}
		block, ok := svc.GetBlock(height)
		weight := new(big.Int)
		if ok && block.Header.CumulativeWeight != nil {
			weight = block.Header.CumulativeWeight
		}
		heights = append(heights, height)
		entries = append(entries, types.LocatorEntry{Hash: hash, CumulativeWeight: weight})
		if height == 0 {
			break
		}
		if height < step {
			height = 0
			continue
		}
		height -= step
		step *= 2
	}
	for i := len(heights) - 1; i >= 0; i-- {
		locators.Insert(heights[i], entries[i])
	}
	return locators
}

// Validate checks a received BlockLocators against the local chain per the
// Pong-validation contract: non-empty; height strictly increases in
// insertion order; cumulative weight is non-decreasing with height. A hash
// that disagrees with the local chain at a locally known height is not
// rejected: that is what a fork looks like.
func Validate(svc ledger.Service, locators *types.BlockLocators) error {
	if locators == nil || locators.Len() == 0 {
		return errEmptyLocators
	}
	var lastHeight uint32
	var lastWeight *big.Int
	for i, h := range locators.Heights {
		entry := locators.Entries[h]
		if i > 0 && h <= lastHeight {
			return errNonIncreasingHeight
		}
		if lastWeight != nil && entry.CumulativeWeight != nil && entry.CumulativeWeight.Cmp(lastWeight) < 0 {
			return errDecreasingWeight
		}
		if localHash, ok := svc.GetBlockHash(h); ok {
			if localHash != entry.Hash {
				// Disagreement at a locally known height is not itself a
				// validation failure — it is exactly what a fork looks
				// like, and is resolved by common-ancestor search, not
				// rejected outright.
			}
		}
		lastHeight = h
		lastWeight = entry.CumulativeWeight
	}
	return nil
}

var (
	errEmptyLocators       = locatorError("locators must be non-empty")
	errNonIncreasingHeight = locatorError("locator heights must strictly increase")
	errDecreasingWeight    = locatorError("locator cumulative weight must not decrease")
)

type locatorError string

func (e locatorError) Error() string { return string(e) }

// CommonAncestor finds the greatest height present in both the local chain
// and locators with matching hash (the ancestor), and the least remote
// height whose hash differs from the local hash at that height (the first
// deviating locator). firstDeviating's ok is false when no divergence is
// observed within the overlap.
func CommonAncestor(svc ledger.Service, locators *types.BlockLocators) (ancestor uint32, ancestorOK bool, firstDeviating uint32, firstDeviatingOK bool) {
	for _, h := range locators.Heights {
		entry := locators.Entries[h]
		localHash, ok := svc.GetBlockHash(h)
		if !ok {
			continue
		}
		if localHash == entry.Hash {
			if !ancestorOK || h > ancestor {
				ancestor = h
				ancestorOK = true
			}
		} else if !firstDeviatingOK || h < firstDeviating {
			firstDeviating = h
			firstDeviatingOK = true
		}
	}
	return
}

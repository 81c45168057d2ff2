// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package committee models the weighted validator committee consulted by
// the worker (to size redundant requests) and the sync engine (to compare
// chains). The committee's quorum, batch certification and subdag commit
// rules live in the DAG-BFT collaborator below the worker and are out of
// scope here; this package only exposes what the in-scope subsystems read.
//
// Committee holds its members and their stake weights in a slice; Sorted
// orders a copy with sort.Slice for deterministic iteration.
package committee

import (
	"math/big"
	"sort"
)

// Member is one committee member's address and weight.
type Member struct {
	Address [32]byte
	Weight  *big.Int
}

// Committee is a weighted validator set as of a particular round.
type Committee struct {
	Round   uint64
	Members []Member
}

// Size returns the number of committee members.
func (c *Committee) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Members)
}

// TotalWeight sums every member's weight.
func (c *Committee) TotalWeight() *big.Int {
	total := new(big.Int)
	if c == nil {
		return total
	}
	for _, m := range c.Members {
		total.Add(total, m.Weight)
	}
	return total
}

// Sorted returns members ordered by descending weight, address as tiebreak,
// for deterministic iteration (e.g. sync-target tie-breaks).
func (c *Committee) Sorted() []Member {
	if c == nil {
		return nil
	}
	out := make([]Member, len(c.Members))
	copy(out, c.Members)
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Weight.Cmp(out[j].Weight); cmp != 0 {
			return cmp > 0
		}
		for k := range out[i].Address {
			if out[i].Address[k] != out[j].Address[k] {
				return out[i].Address[k] < out[j].Address[k]
			}
		}
		return false
	})
	return out
}

// NumRedundantRequests computes max(1, ceil(committee_size/4)), capped by
// maxCap. This is the single formula pinned by the specification; any
// deviation at a call site is a bug.
func NumRedundantRequests(committeeSize, maxCap int) int {
	n := (committeeSize + 3) / 4
	if n < 1 {
		n = 1
	}
	if n > maxCap {
		n = maxCap
	}
	return n
}

// Provider resolves committees by round, the interface the worker and sync
// engine consume (implemented by ledger.Service in production, or directly
// by a Static mock in tests).
type Provider interface {
	CurrentCommittee() (*Committee, error)
	GetCommitteeLookbackForRound(round uint64) (*Committee, error)
}

// Static is a fixed-committee Provider for tests.
type Static struct {
	Committee *Committee
}

func (s *Static) CurrentCommittee() (*Committee, error) { return s.Committee, nil }
func (s *Static) GetCommitteeLookbackForRound(uint64) (*Committee, error) {
	return s.Committee, nil
}

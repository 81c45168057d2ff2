// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package ledger defines the LedgerService facade consumed by the worker
// and sync engine: read/write access to the block store, committee lookup,
// and transmission well-formedness checks. The zero-knowledge proof system,
// cryptographic primitives, persistent storage internals and transaction
// execution are out-of-scope collaborators, represented here only at their
// interface boundary.
package ledger

import (
	"math/big"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

// Service is the read/write interface to the block store, committee lookup,
// and transmission well-formedness checks that the worker and sync engine
// depend on. Production deployments back it with internal/store; tests back
// it with MockService.
type Service interface {
	LatestRound() uint64
	LatestBlockHeight() uint32
	LatestBlockHeader() types.BlockHeader
	LatestBlockHash() types.ID32
	LatestCumulativeWeight() *big.Int

	ContainsBlockHash(hash types.ID32) bool
	GetBlockHash(height uint32) (types.ID32, bool)
	GetBlock(height uint32) (types.Block, bool)
	GetBlocks(start, end uint32) ([]types.Block, error)

	// ContainsTransmission reports whether id is known in the ready queue,
	// a proposed batch, local storage, or the finalized ledger — the four
	// places the worker must check before accepting a new transmission.
	ContainsTransmission(id types.TransmissionID) bool

	CheckSolutionBasic(id types.TransmissionID, data []byte) error
	CheckTransactionBasic(id types.TransmissionID, data []byte) error
	EnsureTransmissionIsWellFormed(id types.TransmissionID, tm types.Transmission) error

	CurrentCommittee() (*committee.Committee, error)
	GetCommitteeLookbackForRound(round uint64) (*committee.Committee, error)

	// AddNextBlock appends b as the new chain tip. It fails unless
	// b.Height == LatestBlockHeight()+1 and b.PreviousBlockHash equals the
	// current tip hash.
	AddNextBlock(b types.Block) error

	// RevertToBlockHeight drops all blocks above h and returns the removed
	// blocks in descending height order (most recent first).
	RevertToBlockHeight(h uint32) ([]types.Block, error)
}

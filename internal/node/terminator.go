// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package node wires the transport, registry, mempool, ledger and sync
// subsystems into one running process: construct every collaborator, start
// the accept/dial loops, and sequence a clean shutdown.
package node

import "sync/atomic"

// Terminator is the process-wide "stop what you're doing" flag the sync
// engine's Heartbeat sets while Peering/Syncing and that the (out-of-scope)
// miner collaborator polls before starting expensive work. Backed by a
// single atomic.Bool so readers never block a writer.
type Terminator struct {
	terminating atomic.Bool
}

// NewTerminator constructs a Terminator that starts clear.
func NewTerminator() *Terminator { return &Terminator{} }

// SetTerminating satisfies sync.Terminator.
func (t *Terminator) SetTerminating(v bool) { t.terminating.Store(v) }

// IsTerminating satisfies sync.Terminator and worker.Terminator-shaped
// collaborators.
func (t *Terminator) IsTerminating() bool { return t.terminating.Load() }

// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package node

import (
	"github.com/AleoNet/snarkOS-sub002/internal/peers"
	syncengine "github.com/AleoNet/snarkOS-sub002/internal/sync"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
	"github.com/AleoNet/snarkOS-sub002/internal/worker"
)

// syncNetwork adapts the Peers Registry to the sync engine's Network
// collaborator interface.
type syncNetwork struct {
	registry *peers.Registry
}

func (n syncNetwork) SendBlockRequest(peer syncengine.PeerID, start, end uint32) error {
	return n.registry.MessageSend(string(peer), wire.BlockRequest{Start: start, End: end})
}

func (n syncNetwork) Disconnect(peer syncengine.PeerID, reason types.DisconnectReason) {
	n.registry.DisconnectWithReason(string(peer), reason)
}

// workerNetwork adapts the Peers Registry to the worker pool's Network
// collaborator interface.
type workerNetwork struct {
	registry *peers.Registry
}

func (n workerNetwork) SendTransmissionRequest(peer worker.PeerID, id types.TransmissionID) error {
	return n.registry.MessageSend(string(peer), wire.TransmissionRequest{ID: id})
}

func (n workerNetwork) BroadcastWorkerPing(ids []types.TransmissionID) {
	n.registry.MessagePropagate(nil, wire.WorkerPing{IDs: ids})
}

// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package peer

import (
	"math/big"
	"net"
	"sync"
	"testing"

	"github.com/AleoNet/snarkOS-sub002/internal/committee"
	"github.com/AleoNet/snarkOS-sub002/internal/ledger"
	syncengine "github.com/AleoNet/snarkOS-sub002/internal/sync"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

type fakeOutbound struct {
	mu          sync.Mutex
	sent        []wire.Message
	disconnects []types.DisconnectReason
}

func (f *fakeOutbound) Send(msg wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeOutbound) Disconnect(reason types.DisconnectReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, reason)
}

func (f *fakeOutbound) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeOutbound) last() wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeSync struct {
	mu              sync.Mutex
	pongs           int
	blockResponses  []types.Block
	lastPongPeer    syncengine.PeerID
}

func (f *fakeSync) OnPong(peer syncengine.PeerID, nodeType types.NodeType, status types.Status, latestHeight uint32, locators *types.BlockLocators) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongs++
	f.lastPongPeer = peer
	return nil
}

func (f *fakeSync) HandleBlockResponse(peer syncengine.PeerID, block types.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockResponses = append(f.blockResponses, block)
	return nil
}

type fakeWorker struct {
	mu              sync.Mutex
	unconfirmedTxs  [][]byte
	pingIDs         []types.TransmissionID
	responses       []types.TransmissionID
	lookupResult    types.Transmission
	lookupOK        bool
}

func (f *fakeWorker) ProcessUnconfirmedTransactionBytes(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unconfirmedTxs = append(f.unconfirmedTxs, data)
	return nil
}

func (f *fakeWorker) ProcessTransmissionIDFromPing(peer string, id types.TransmissionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingIDs = append(f.pingIDs, id)
}

func (f *fakeWorker) HandleTransmissionResponse(id types.TransmissionID, tm types.Transmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, id)
	return nil
}

func (f *fakeWorker) LookupTransmission(id types.TransmissionID) (types.Transmission, bool) {
	return f.lookupResult, f.lookupOK
}

type fakeRegistry struct {
	connected  []net.TCPAddr
	candidates []net.TCPAddr
	restricted []string
}

func (f *fakeRegistry) ConnectedIPs() []net.TCPAddr { return f.connected }
func (f *fakeRegistry) AbsorbCandidates(ips []net.TCPAddr) {
	f.candidates = append(f.candidates, ips...)
}
func (f *fakeRegistry) Restrict(id string) {
	f.restricted = append(f.restricted, id)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Peer, *fakeOutbound, *fakeSync, *fakeWorker, *fakeRegistry, *ledger.MockService) {
	t.Helper()
	genesis := types.Block{Header: types.BlockHeader{Height: 0, CumulativeWeight: big.NewInt(0)}}
	provider := &committee.Static{Committee: &committee.Committee{}}
	ml := ledger.NewMockService(genesis, provider)
	out := &fakeOutbound{}
	p := NewPeer(out, nil)
	p.CompleteHandshake(ID("1.2.3.4:4133"), types.NodeTypeValidator, 42)
	sy := &fakeSync{}
	wk := &fakeWorker{}
	reg := &fakeRegistry{}
	d := NewDispatcher(p, Collaborators{Ledger: ml, Sync: sy, Worker: wk, Registry: reg}, nil)
	return d, p, out, sy, wk, reg, ml
}

func TestDispatchChallengeMessagesAreProtocolViolations(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher(t)
	if err := d.Dispatch(wire.ChallengeRequest{}); err == nil {
		t.Fatalf("expected a protocol violation for a post-handshake ChallengeRequest")
	}
	if err := d.Dispatch(wire.ChallengeResponse{}); err == nil {
		t.Fatalf("expected a protocol violation for a post-handshake ChallengeResponse")
	}
}

func TestDispatchBlockRequestRejectsOversizedSpan(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher(t)
	err := d.Dispatch(wire.BlockRequest{Start: 1, End: 1 + 1000})
	if err == nil {
		t.Fatalf("expected an oversized block request span to be rejected")
	}
}

func TestDispatchBlockRequestStreamsResponses(t *testing.T) {
	d, _, out, _, _, _, ml := newTestDispatcher(t)
	for h := uint32(1); h <= 3; h++ {
		prev, _ := ml.GetBlockHash(h - 1)
		var hash types.ID32
		hash[0] = byte(h)
		b := types.Block{Header: types.BlockHeader{Height: h, PreviousBlockHash: prev, CumulativeWeight: big.NewInt(int64(h))}, Hash: hash}
		if err := ml.AddNextBlock(b); err != nil {
			t.Fatalf("seed AddNextBlock(%d): %v", h, err)
		}
	}
	if err := d.Dispatch(wire.BlockRequest{Start: 1, End: 3}); err != nil {
		t.Fatalf("Dispatch(BlockRequest): %v", err)
	}
	if out.sentCount() != 3 {
		t.Fatalf("expected 3 streamed BlockResponse frames, got %d", out.sentCount())
	}
}

func TestDispatchBlockResponseForwardsToSync(t *testing.T) {
	d, _, _, sy, _, _, _ := newTestDispatcher(t)
	block := types.Block{Header: types.BlockHeader{Height: 1, CumulativeWeight: big.NewInt(1)}}
	if err := d.Dispatch(wire.BlockResponse{Block: wire.NewBlockData(block)}); err != nil {
		t.Fatalf("Dispatch(BlockResponse): %v", err)
	}
	if len(sy.blockResponses) != 1 {
		t.Fatalf("expected the block response to reach the sync engine")
	}
}

func TestDispatchPongForwardsToSync(t *testing.T) {
	d, _, _, sy, _, _, _ := newTestDispatcher(t)
	locators := types.NewBlockLocators()
	locators.Insert(0, types.LocatorEntry{CumulativeWeight: big.NewInt(0)})
	if err := d.Dispatch(wire.Pong{Locators: wire.NewLocatorsData(locators)}); err != nil {
		t.Fatalf("Dispatch(Pong): %v", err)
	}
	if sy.pongs != 1 || sy.lastPongPeer != syncengine.PeerID("1.2.3.4:4133") {
		t.Fatalf("expected exactly one OnPong call for the peer, got %d calls peer=%v", sy.pongs, sy.lastPongPeer)
	}
}

func TestDispatchPingRespondsWithPong(t *testing.T) {
	d, _, out, _, _, _, _ := newTestDispatcher(t)
	if err := d.Dispatch(wire.Ping{NodeType: types.NodeTypeValidator, Status: types.StatusReady}); err != nil {
		t.Fatalf("Dispatch(Ping): %v", err)
	}
	if _, ok := out.last().(wire.Pong); !ok {
		t.Fatalf("expected a Pong response, got %T", out.last())
	}
}

func TestDispatchPeerRequestRespondsWithConnectedIPs(t *testing.T) {
	d, _, out, _, _, reg, _ := newTestDispatcher(t)
	reg.connected = []net.TCPAddr{{IP: net.ParseIP("10.0.0.1"), Port: 4133}}
	if err := d.Dispatch(wire.PeerRequest{}); err != nil {
		t.Fatalf("Dispatch(PeerRequest): %v", err)
	}
	resp, ok := out.last().(wire.PeerResponse)
	if !ok || len(resp.IPs) != 1 {
		t.Fatalf("expected a PeerResponse carrying the registry's connected set, got %#v ok=%v", out.last(), ok)
	}
}

func TestDispatchUnconfirmedBlockOutsideWindowIsDropped(t *testing.T) {
	d, _, _, sy, _, _, ml := newTestDispatcher(t)
	for h := uint32(1); h <= 10; h++ {
		prev, _ := ml.GetBlockHash(h - 1)
		var hash types.ID32
		hash[0] = byte(h)
		b := types.Block{Header: types.BlockHeader{Height: h, PreviousBlockHash: prev, CumulativeWeight: big.NewInt(int64(h))}, Hash: hash}
		if err := ml.AddNextBlock(b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// Local tip is height 10; height 1 falls well outside [8, 12].
	far := types.Block{Header: types.BlockHeader{Height: 1}, Hash: types.ID32{0x01}}
	if err := d.Dispatch(wire.UnconfirmedBlock{Height: 1, Hash: far.Hash, Block: wire.NewBlockData(far)}); err != nil {
		t.Fatalf("Dispatch(UnconfirmedBlock): %v", err)
	}
	if len(sy.blockResponses) != 0 {
		t.Fatalf("expected an out-of-window unconfirmed block to be dropped, not forwarded")
	}
}

func TestDispatchUnconfirmedBlockWithinWindowForwards(t *testing.T) {
	d, _, _, sy, _, _, _ := newTestDispatcher(t)
	blk := types.Block{Header: types.BlockHeader{Height: 1}, Hash: types.ID32{0x02}}
	if err := d.Dispatch(wire.UnconfirmedBlock{Height: 1, Hash: blk.Hash, Block: wire.NewBlockData(blk)}); err != nil {
		t.Fatalf("Dispatch(UnconfirmedBlock): %v", err)
	}
	if len(sy.blockResponses) != 1 {
		t.Fatalf("expected the in-window unconfirmed block to reach the sync engine")
	}
}

func TestDispatchUnconfirmedBlockRedundantDeliverySuppressed(t *testing.T) {
	d, p, _, sy, _, _, _ := newTestDispatcher(t)
	blk := types.Block{Header: types.BlockHeader{Height: 1}, Hash: types.ID32{0x03}}
	msg := wire.UnconfirmedBlock{Height: 1, Hash: blk.Hash, Block: wire.NewBlockData(blk)}
	if err := d.Dispatch(msg); err != nil {
		t.Fatalf("first Dispatch(UnconfirmedBlock): %v", err)
	}
	_ = p
	if err := d.Dispatch(msg); err != nil {
		t.Fatalf("second Dispatch(UnconfirmedBlock): %v", err)
	}
	if len(sy.blockResponses) != 1 {
		t.Fatalf("expected the redundant delivery to be suppressed, forwarded %d times", len(sy.blockResponses))
	}
}

func TestDispatchUnconfirmedBlockRateLimited(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher(t)
	var lastErr error
	for i := 0; i < 50; i++ {
		var hash types.ID32
		hash[0] = byte(i)
		hash[1] = byte(i >> 8)
		blk := types.Block{Header: types.BlockHeader{Height: 1}, Hash: hash}
		lastErr = d.Dispatch(wire.UnconfirmedBlock{Height: 1, Hash: hash, Block: wire.NewBlockData(blk)})
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatalf("expected the distinct-block rate limit to eventually reject a delivery")
	}
}

func rawBytesData(b []byte) *types.Data[[]byte] {
	identity := func(v []byte) ([]byte, error) { return v, nil }
	return types.NewObjectData(b, identity, identity)
}

func TestDispatchUnconfirmedTransactionForwardsToWorker(t *testing.T) {
	d, _, _, _, wk, _, _ := newTestDispatcher(t)
	payload := []byte("a transaction")
	if err := d.Dispatch(wire.UnconfirmedTransaction{Transaction: rawBytesData(payload)}); err != nil {
		t.Fatalf("Dispatch(UnconfirmedTransaction): %v", err)
	}
	if len(wk.unconfirmedTxs) != 1 {
		t.Fatalf("expected the transaction to reach the worker")
	}
}

func TestDispatchWorkerPingRoutesEachID(t *testing.T) {
	d, _, _, _, wk, _, _ := newTestDispatcher(t)
	ids := []types.TransmissionID{
		{Variant: types.VariantSolution, ID: types.ID32{1}},
		{Variant: types.VariantTransaction, ID: types.ID32{2}},
	}
	if err := d.Dispatch(wire.WorkerPing{IDs: ids}); err != nil {
		t.Fatalf("Dispatch(WorkerPing): %v", err)
	}
	if len(wk.pingIDs) != 2 {
		t.Fatalf("expected both ids to be routed to the worker, got %d", len(wk.pingIDs))
	}
}

func TestDispatchTransmissionRequestRespondsWhenKnown(t *testing.T) {
	d, _, out, _, wk, _, _ := newTestDispatcher(t)
	id := types.TransmissionID{Variant: types.VariantTransaction, ID: types.ID32{9}}
	tm, _ := types.NewTransmission(types.VariantTransaction, []byte("payload"))
	wk.lookupResult, wk.lookupOK = tm, true
	if err := d.Dispatch(wire.TransmissionRequest{ID: id}); err != nil {
		t.Fatalf("Dispatch(TransmissionRequest): %v", err)
	}
	resp, ok := out.last().(wire.TransmissionResponse)
	if !ok || !resp.ID.Equal(id) {
		t.Fatalf("expected a TransmissionResponse for the known id, got %#v ok=%v", out.last(), ok)
	}
}

func TestDispatchTransmissionRequestSilentWhenUnknown(t *testing.T) {
	d, _, out, _, _, _, _ := newTestDispatcher(t)
	id := types.TransmissionID{Variant: types.VariantTransaction, ID: types.ID32{10}}
	if err := d.Dispatch(wire.TransmissionRequest{ID: id}); err != nil {
		t.Fatalf("Dispatch(TransmissionRequest): %v", err)
	}
	if out.sentCount() != 0 {
		t.Fatalf("expected no response for an unknown transmission id")
	}
}

func TestDispatchDisconnectTransitionsState(t *testing.T) {
	d, p, _, _, _, _, _ := newTestDispatcher(t)
	if err := d.Dispatch(wire.Disconnect{Reason: types.ReasonPeerHasDisconnected}); err != nil {
		t.Fatalf("Dispatch(Disconnect): %v", err)
	}
	if p.State() != StateDisconnecting {
		t.Fatalf("expected the peer to transition to Disconnecting, got %v", p.State())
	}
}

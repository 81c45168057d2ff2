// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package peers maintains the node's view of the outside world: the
// connected set, the candidate set absorbed from PeerResponse gossip, and
// the restricted set of addresses temporarily banned from outbound dials.
// The connected and candidate sets are plain maps and the trusted set is a
// mapset.Set; inbound-failure tracking is a bounded LRU so a flood of
// spoofed source IPs cannot grow memory unboundedly.
package peers

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	lru "github.com/hashicorp/golang-lru"

	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

// errAlreadyConnected is returned when a nonce already claimed by a
// different address tries to register a second connection.
var errAlreadyConnected = errors.New("peers: nonce already connected under a different address")

// maxInboundFailureEntries bounds the inbound-failure LRU so a flood of
// spoofed source IPs cannot grow memory unboundedly.
const maxInboundFailureEntries = 100_000

// Conn is the narrow send/teardown surface the registry needs from a live
// connection to propagate messages and enforce restriction. It mirrors
// peer.Outbound without importing internal/peer, keeping this package
// usable independent of the connection driver.
type Conn interface {
	Send(msg wire.Message) error
	Disconnect(reason types.DisconnectReason)
}

type connectedEntry struct {
	conn     Conn
	nonce    uint64
	nodeType types.NodeType
	trusted  bool
}

type inboundFailureRecord struct {
	count     int
	windowEnd time.Time
}

// Registry is the Peers Registry: connected/candidate/restricted sets, the
// trusted-peer allowlist, and inbound-connection-failure tracking.
type Registry struct {
	mu sync.RWMutex

	connected map[string]*connectedEntry
	nonces    map[uint64]string

	candidates    map[string]time.Time // ip -> last absorbed
	lastDialedAt  map[string]time.Time
	restricted    map[string]time.Time // ip -> ban expiry
	trusted       mapset.Set

	inboundFailures *lru.Cache

	now func() time.Time
}

// New constructs an empty Registry. trustedAddrs are always-reconnect peers
// exempt from the single-non-trusted-beacon rule; they are seeded into the
// candidate set immediately so DialCandidate can reach them without waiting
// on gossip, and Disconnect re-seeds them on every drop.
func New(trustedAddrs []string, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	trusted := mapset.NewSet()
	candidates := make(map[string]time.Time)
	for _, a := range trustedAddrs {
		trusted.Add(a)
		candidates[a] = now()
	}
	cache, _ := lru.New(maxInboundFailureEntries)
	return &Registry{
		connected:       make(map[string]*connectedEntry),
		nonces:          make(map[uint64]string),
		candidates:      candidates,
		lastDialedAt:    make(map[string]time.Time),
		restricted:      make(map[string]time.Time),
		trusted:         trusted,
		inboundFailures: cache,
		now:             now,
	}
}

// Connect registers a newly handshaken peer. A duplicate nonce from a
// different address is rejected — the handshake itself should have already
// caught the same-socket case, this is the registry's own defense against
// two sockets claiming the same identity.
func (r *Registry) Connect(id string, nodeType types.NodeType, nonce uint64, trusted bool, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.nonces[nonce]; ok && existing != id {
		return errAlreadyConnected
	}
	r.connected[id] = &connectedEntry{conn: conn, nonce: nonce, nodeType: nodeType, trusted: trusted}
	r.nonces[nonce] = id
	delete(r.candidates, id)
	return nil
}

// Disconnect removes id from the connected set. A trusted peer is re-added
// to the candidate set so the dial loop keeps trying to reconnect it.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.connected[id]; ok {
		delete(r.nonces, e.nonce)
		delete(r.connected, id)
		if e.trusted {
			r.candidates[id] = r.now()
		}
	}
}

// DisconnectWithReason sends a Disconnect frame to id's connection and
// removes it from the connected set, used by collaborators (the sync
// engine's TooManyPeers/SyncComplete teardowns) that only know the peer's
// address. A trusted peer is re-added to the candidate set, same as
// Disconnect.
func (r *Registry) DisconnectWithReason(id string, reason types.DisconnectReason) {
	r.mu.Lock()
	e, ok := r.connected[id]
	if ok {
		delete(r.nonces, e.nonce)
		delete(r.connected, id)
		if e.trusted {
			r.candidates[id] = r.now()
		}
	}
	r.mu.Unlock()
	if ok {
		e.conn.Disconnect(reason)
	}
}

// HasNonce reports whether nonce is already claimed by a connected peer,
// used by the handshake's duplicate-nonce rejection rule.
func (r *Registry) HasNonce(nonce uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nonces[nonce]
	return ok
}

// NumConnected reports the size of the connected set.
func (r *Registry) NumConnected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connected)
}

// ConnectedIDs lists every connected address.
func (r *Registry) ConnectedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.connected))
	for id := range r.connected {
		ids = append(ids, id)
	}
	return ids
}

// ConnectedIPs satisfies peer.Registry: the connected set rendered as
// resolved TCP addresses for a PeerResponse payload.
func (r *Registry) ConnectedIPs() []net.TCPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]net.TCPAddr, 0, len(r.connected))
	for id := range r.connected {
		if addr, err := parseTCPAddr(id); err == nil {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// ExcessBeacons returns the ids of every connected non-trusted Beacon past
// the first, the set the Heartbeat's single-non-trusted-beacon rule
// disconnects with TooManyPeers.
func (r *Registry) ExcessBeacons() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seenOne := false
	var excess []string
	for id, e := range r.connected {
		if !e.nodeType.IsBeacon() || e.trusted || r.trusted.Contains(id) {
			continue
		}
		if seenOne {
			excess = append(excess, id)
			continue
		}
		seenOne = true
	}
	return excess
}

// IsTrusted reports whether id is a trusted, always-reconnected peer.
func (r *Registry) IsTrusted(id string) bool {
	return r.trusted.Contains(id)
}

// AbsorbCandidates merges ips into the candidate set, capped at
// MaximumCandidatePeers; once full, new candidates are dropped rather than
// evicting existing ones, since a PeerResponse flood should not let a
// remote peer churn the entire candidate set.
func (r *Registry) AbsorbCandidates(ips []net.TCPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, a := range ips {
		id := a.String()
		if _, ok := r.connected[id]; ok {
			continue
		}
		if _, ok := r.candidates[id]; ok {
			r.candidates[id] = now
			continue
		}
		if len(r.candidates) >= params.MaximumCandidatePeers {
			continue
		}
		r.candidates[id] = now
	}
}

// Restrict bans id's address from outbound dials for RadioSilence, per the
// UnconfirmedBlock/UnconfirmedTransaction rate-limit-breach contract.
func (r *Registry) Restrict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restricted[id] = r.now().Add(params.RadioSilence)
}

// IsRestricted reports whether id is currently banned.
func (r *Registry) IsRestricted(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	expiry, ok := r.restricted[id]
	return ok && r.now().Before(expiry)
}

// DialCandidate picks the next eligible candidate to dial: not self, not
// connected, not restricted, and at least RadioSilence since the last dial
// attempt against it.
func (r *Registry) DialCandidate(self string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id := range r.candidates {
		if id == self {
			continue
		}
		if _, ok := r.connected[id]; ok {
			continue
		}
		if expiry, ok := r.restricted[id]; ok && now.Before(expiry) {
			continue
		}
		if last, ok := r.lastDialedAt[id]; ok && now.Sub(last) < params.RadioSilence {
			continue
		}
		r.lastDialedAt[id] = now
		return id, true
	}
	return "", false
}

// RecordInboundFailure tallies a failed inbound connection attempt from a
// sanitized source IP (port stripped for non-loopback sources) and reports
// whether the threshold was just crossed, auto-restricting the source.
func (r *Registry) RecordInboundFailure(sourceIP string) (restricted bool) {
	sanitized := sanitizeSourceIP(sourceIP)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var rec *inboundFailureRecord
	if v, ok := r.inboundFailures.Get(sanitized); ok {
		rec = v.(*inboundFailureRecord)
	}
	if rec == nil || now.After(rec.windowEnd) {
		rec = &inboundFailureRecord{count: 0, windowEnd: now.Add(params.RadioSilence)}
	}
	rec.count++
	r.inboundFailures.Add(sanitized, rec)

	if rec.count > params.MaximumConnectionFailures {
		r.restricted[sanitized] = now.Add(params.RadioSilence)
		return true
	}
	return false
}

// Sweep clears expired restrictions and stale dial-attempt bookkeeping,
// called from the Heartbeat the same way the Ledger Sync Engine expires
// block requests and failures each cycle.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, expiry := range r.restricted {
		if now.After(expiry) {
			delete(r.restricted, id)
		}
	}
	for id, last := range r.lastDialedAt {
		if now.Sub(last) > params.RadioSilence {
			delete(r.lastDialedAt, id)
		}
	}
}

// MessageSend delivers msg to exactly one connected peer, silently
// dropping it if the peer is no longer connected — the sender races
// disconnects and is not expected to retry.
func (r *Registry) MessageSend(id string, msg wire.Message) error {
	r.mu.RLock()
	e, ok := r.connected[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.conn.Send(msg)
}

// MessagePropagate best-effort fans msg out to every connected peer except
// those named in exclude.
func (r *Registry) MessagePropagate(exclude map[string]bool, msg wire.Message) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.connected))
	for id, e := range r.connected {
		if exclude[id] {
			continue
		}
		conns = append(conns, e.conn)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Send(msg)
	}
}

// MessagePropagateBeacon fans msg out to every connected Beacon node,
// used for announcements that only need beacon-tier reach.
func (r *Registry) MessagePropagateBeacon(msg wire.Message) {
	r.mu.RLock()
	conns := make([]Conn, 0)
	for _, e := range r.connected {
		if e.nodeType.IsBeacon() {
			conns = append(conns, e.conn)
		}
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Send(msg)
	}
}

func sanitizeSourceIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if ip.IsLoopback() {
		return addr
	}
	return ip.String()
}

func parseTCPAddr(id string) (net.TCPAddr, error) {
	host, portStr, err := net.SplitHostPort(id)
	if err != nil {
		return net.TCPAddr{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return net.TCPAddr{}, err
	}
	ip := net.ParseIP(host)
	return net.TCPAddr{IP: ip, Port: port}, nil
}

// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package worker

import (
	"fmt"
	"testing"
	"time"
)

func TestPendingTableRedundancyRules(t *testing.T) {
	p := NewPendingTable()
	id := idWith(9)
	now := time.Unix(0, 0)

	sent := 0
	for i := 0; i < 10; i++ {
		_, shouldSend := p.Register(id, PeerID(fmt.Sprintf("peer-%d", i)), 2, now)
		if shouldSend {
			sent++
		}
	}
	if sent != 2 {
		t.Fatalf("expected exactly 2 sent requests (num_redundant_requests=2), got %d", sent)
	}
	if got := p.SentRequestCount(id); got != 2 {
		t.Fatalf("expected 2 entries with sent_request=true, got %d", got)
	}
}

func TestPendingTableAtMostOneSentPerPeer(t *testing.T) {
	p := NewPendingTable()
	id := idWith(3)
	now := time.Unix(0, 0)

	_, first := p.Register(id, PeerID("peer-a"), 5, now)
	_, second := p.Register(id, PeerID("peer-a"), 5, now)
	if !first {
		t.Fatalf("expected first registration from peer-a to send a request")
	}
	if second {
		t.Fatalf("expected second registration from the same peer to not send another request")
	}
}

func TestPendingTableExpiryDeliversTimeout(t *testing.T) {
	p := NewPendingTable()
	id := idWith(4)
	base := time.Unix(1000, 0)

	ch, _ := p.Register(id, PeerID("peer-a"), 1, base)

	expired := p.ExpireOlderThan(base.Add(-time.Second), nil)
	if expired != 0 {
		t.Fatalf("expected nothing expired before the cutoff, got %d", expired)
	}

	expired = p.ExpireOlderThan(base.Add(time.Second), ErrFetchTimeout)
	if expired != 1 {
		t.Fatalf("expected exactly 1 expired waiter, got %d", expired)
	}
	select {
	case res := <-ch:
		if res.Err != ErrFetchTimeout {
			t.Fatalf("expected ErrFetchTimeout, got %v", res.Err)
		}
	default:
		t.Fatalf("expected a timeout result to be delivered")
	}
	if p.Len() != 0 {
		t.Fatalf("expected the pending entry to be gone after full expiry, got len %d", p.Len())
	}
}

func TestPendingTableResolveNotifiesAllWaiters(t *testing.T) {
	p := NewPendingTable()
	id := idWith(7)
	now := time.Unix(0, 0)

	var chans []chan FetchResult
	for i := 0; i < 3; i++ {
		ch, _ := p.Register(id, PeerID(fmt.Sprintf("peer-%d", i)), 1, now)
		chans = append(chans, ch)
	}

	tm := mustTransmission(t, id.Variant, []byte("payload"))
	n := p.Resolve(id, tm)
	if n != 3 {
		t.Fatalf("expected 3 waiters notified, got %d", n)
	}
	for _, ch := range chans {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
		default:
			t.Fatalf("expected a result to be delivered to every waiter")
		}
	}
	if p.IsPending(id) {
		t.Fatalf("expected pending entry removed after resolve")
	}
}

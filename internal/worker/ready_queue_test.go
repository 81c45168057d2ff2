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
	"testing"

	"github.com/AleoNet/snarkOS-sub002/internal/types"
)

func mustTransmission(t *testing.T, variant types.TransmissionVariant, payload []byte) types.Transmission {
	t.Helper()
	tm, err := types.NewTransmission(variant, payload)
	if err != nil {
		t.Fatalf("NewTransmission: %v", err)
	}
	return tm
}

func idWith(b byte) types.TransmissionID {
	var id types.TransmissionID
	id.ID[0] = b
	return id
}

func TestReadyQueueInsertIfAbsentFirstWriterWins(t *testing.T) {
	q := NewReadyQueue(10)
	id := idWith(1)
	tm1 := mustTransmission(t, types.VariantTransaction, []byte("first"))
	tm2 := mustTransmission(t, types.VariantTransaction, []byte("second"))

	if !q.InsertIfAbsent(id, tm1) {
		t.Fatalf("expected first insert to succeed")
	}
	if q.InsertIfAbsent(id, tm2) {
		t.Fatalf("expected second insert for same id to be rejected")
	}
	if q.Len() != 1 {
		t.Fatalf("expected queue length 1, got %d", q.Len())
	}

	drained := q.Drain(1)
	got, err := drained[0].Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("expected queue to keep the first writer's payload, got %q", got)
	}
}

func TestReadyQueueNoDuplicateIDs(t *testing.T) {
	q := NewReadyQueue(10)
	ids := []types.TransmissionID{idWith(1), idWith(2), idWith(1), idWith(3)}
	for _, id := range ids {
		q.InsertIfAbsent(id, mustTransmission(t, types.VariantSolution, []byte("x")))
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 distinct ids, got %d", q.Len())
	}
}

func TestReadyQueueCapacity(t *testing.T) {
	q := NewReadyQueue(2)
	for i := byte(0); i < 5; i++ {
		q.InsertIfAbsent(idWith(i), mustTransmission(t, types.VariantSolution, []byte("x")))
	}
	if q.Len() != 2 {
		t.Fatalf("expected queue capped at 2, got %d", q.Len())
	}
	if !q.Full() {
		t.Fatalf("expected queue to report full")
	}
}

func TestReadyQueueDrainOrderAndCounts(t *testing.T) {
	q := NewReadyQueue(10)
	q.InsertIfAbsent(idWith(1), mustTransmission(t, types.VariantSolution, []byte("s1")))
	q.InsertIfAbsent(idWith(2), mustTransmission(t, types.VariantTransaction, []byte("t1")))
	q.InsertIfAbsent(idWith(3), mustTransmission(t, types.VariantSolution, []byte("s2")))

	sols, txs := q.Counts()
	if sols != 2 || txs != 1 {
		t.Fatalf("expected 2 solutions / 1 transaction, got %d/%d", sols, txs)
	}

	drained := q.Drain(2)
	if len(drained) != 2 {
		t.Fatalf("expected to drain 2 items, got %d", len(drained))
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 item remaining, got %d", q.Len())
	}
}

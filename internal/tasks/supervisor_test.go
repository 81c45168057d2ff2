// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitCPURunsJobs(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var n int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		s.SubmitCPU(func() {
			atomic.AddInt32(&n, 1)
			wg.Done()
		})
	}
	wg.Wait()
	if atomic.LoadInt32(&n) != 10 {
		t.Fatalf("expected 10 jobs to run, got %d", n)
	}
}

func TestGoCancelStopsTask(t *testing.T) {
	s := New()
	defer s.Shutdown()

	started := make(chan struct{})
	stopped := make(chan struct{})
	s.Go("probe", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})

	<-started
	s.Cancel("probe")
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("expected the canceled task to observe ctx.Done()")
	}
}

func TestGoReplacesPriorInstanceUnderSameName(t *testing.T) {
	s := New()
	defer s.Shutdown()

	firstStopped := make(chan struct{})
	s.Go("dup", func(ctx context.Context) error {
		<-ctx.Done()
		close(firstStopped)
		return nil
	})

	second := make(chan struct{})
	s.Go("dup", func(ctx context.Context) error {
		close(second)
		<-ctx.Done()
		return nil
	})

	select {
	case <-firstStopped:
	case <-time.After(time.Second):
		t.Fatalf("expected the first task under the same name to be canceled")
	}
	<-second
}

func TestShutdownCancelsEverythingAndWaits(t *testing.T) {
	s := New()
	var ran int32
	s.Go("a", func(ctx context.Context) error {
		<-ctx.Done()
		atomic.AddInt32(&ran, 1)
		return nil
	})
	s.Go("b", func(ctx context.Context) error {
		<-ctx.Done()
		atomic.AddInt32(&ran, 1)
		return nil
	})
	s.Shutdown()
	if atomic.LoadInt32(&ran) != 2 {
		t.Fatalf("expected both tasks to observe shutdown, got %d", ran)
	}
}

func TestGoGroupPropagatesFirstError(t *testing.T) {
	s := New()
	defer s.Shutdown()

	sentinel := errors.New("boom")
	err := s.GoGroup(context.Background(),
		func(ctx context.Context) error { return sentinel },
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected GoGroup to surface the first error, got %v", err)
	}
}

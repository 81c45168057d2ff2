// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package tasks supervises the node's long-lived goroutines: one cancelable
// entry per named task, a CPU pool sized to the machine, and an
// errgroup-based GoGroup helper. Shutdown cancels every named task (in no
// particular order), stops the CPU pool and waits for all of them to exit.
package tasks

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleoNet/snarkOS-sub002/internal/log"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
)

// Supervisor owns every long-lived goroutine the node runs outside of a
// per-connection driver: named, cancelable background tasks plus a CPU
// worker pool for deserialization and ledger verification calls.
type Supervisor struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	cpuJobs chan func()
	cpuOnce sync.Once
	done    chan struct{}
}

// New constructs a Supervisor with its CPU pool started.
func New() *Supervisor {
	s := &Supervisor{
		cancels: make(map[string]context.CancelFunc),
		cpuJobs: make(chan func(), params.MaximumNumberOfPeers*4),
		done:    make(chan struct{}),
	}
	s.startCPUPool()
	return s
}

func (s *Supervisor) startCPUPool() {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.done:
					return
				case job, ok := <-s.cpuJobs:
					if !ok {
						return
					}
					job()
				}
			}
		}()
	}
}

// SubmitCPU enqueues fn on the CPU pool. It blocks if the job channel is
// full, and returns without running fn once the Supervisor has shut down.
func (s *Supervisor) SubmitCPU(fn func()) {
	select {
	case s.cpuJobs <- fn:
	case <-s.done:
	}
}

// Go starts a named, cancelable background task. Starting a task under a
// name already running replaces it, canceling the prior instance first.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if prior, ok := s.cancels[name]; ok {
		prior()
	}
	s.cancels[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Error("background task exited with error", "task", name, "err", err)
		}
	}()
}

// GoGroup runs fns concurrently under one errgroup and returns the first
// error; the first failure cancels the context passed to the others.
func (s *Supervisor) GoGroup(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

// Cancel stops the named task, if running.
func (s *Supervisor) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[name]; ok {
		cancel()
		delete(s.cancels, name)
	}
}

// Shutdown cancels every named task, stops the CPU pool, and waits for all
// goroutines to exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for name, cancel := range s.cancels {
		cancel()
		delete(s.cancels, name)
	}
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

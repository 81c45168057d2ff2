// Copyright 2024 The snarkOS Authors
// This file is part of snarkOS.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package metrics provides a minimal named-counter/gauge registry, in the
// spirit of the naming conventions used by the node's downloader metrics
// (e.g. "probe/downloader/headers", "probe/downloader/bodies"): flat,
// slash-separated names, process-global registration, no external collector.
package metrics

import "sync"

var (
	mu       sync.Mutex
	counters = map[string]*Counter{}
	gauges   = map[string]*Gauge{}
)

// Counter is a monotonically increasing named metric.
type Counter struct {
	mu    sync.Mutex
	value int64
}

func (c *Counter) Inc(delta int64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Gauge is an arbitrary-valued named metric.
type Gauge struct {
	mu    sync.Mutex
	value int64
}

func (g *Gauge) Update(v int64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Value() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// NewRegisteredCounter returns the named counter, creating it on first use.
func NewRegisteredCounter(name string) *Counter {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := counters[name]; ok {
		return c
	}
	c := &Counter{}
	counters[name] = c
	return c
}

// NewRegisteredGauge returns the named gauge, creating it on first use.
func NewRegisteredGauge(name string) *Gauge {
	mu.Lock()
	defer mu.Unlock()
	if g, ok := gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	gauges[name] = g
	return g
}

// Snapshot returns a point-in-time copy of all registered counters and
// gauges, keyed by name, for diagnostics endpoints.
func Snapshot() (map[string]int64, map[string]int64) {
	mu.Lock()
	defer mu.Unlock()
	c := make(map[string]int64, len(counters))
	for k, v := range counters {
		c[k] = v.Value()
	}
	g := make(map[string]int64, len(gauges))
	for k, v := range gauges {
		g[k] = v.Value()
	}
	return c, g
}

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
	"time"

	"golang.org/x/time/rate"
)

// distinctLimiter bounds the number of distinct gossip items (by id) a peer
// may deliver within a window, approximated as a token bucket refilling at
// limit tokens per window rather than tracked as an exact sliding count.
// Duplicate ids never consume a token; the caller is expected to check its
// own dedup set before calling Allow.
type distinctLimiter struct {
	limiter *rate.Limiter
}

func newDistinctLimiter(window time.Duration, limit int) *distinctLimiter {
	return &distinctLimiter{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
}

// Allow reports whether one more distinct item may be accepted right now.
func (l *distinctLimiter) Allow() bool {
	return l.limiter.Allow()
}

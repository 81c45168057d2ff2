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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/AleoNet/snarkOS-sub002/internal/log"
	"github.com/AleoNet/snarkOS-sub002/internal/nodeerr"
	"github.com/AleoNet/snarkOS-sub002/internal/params"
	"github.com/AleoNet/snarkOS-sub002/internal/types"
	"github.com/AleoNet/snarkOS-sub002/internal/wire"
)

// Conn drives one TCP connection: a writer goroutine draining a bounded,
// drop-on-full outbound channel, and a reader goroutine decoding frames and
// handing them to a Dispatcher. It is the production Outbound.
type Conn struct {
	raw    net.Conn
	reader *wire.FrameReader
	writer *wire.FrameWriter

	out    chan wire.Message
	peer   *Peer
	closed chan struct{}

	onDisconnect func(reason types.DisconnectReason)
}

// NewConn wraps raw with the frame codec and a bounded outbound channel.
func NewConn(raw net.Conn, peer *Peer, onDisconnect func(types.DisconnectReason)) *Conn {
	return &Conn{
		raw:          raw,
		reader:       wire.NewFrameReader(raw),
		writer:       wire.NewFrameWriter(raw),
		out:          make(chan wire.Message, params.OutboundQueueCapacity),
		peer:         peer,
		closed:       make(chan struct{}),
		onDisconnect: onDisconnect,
	}
}

// Send enqueues msg for the writer goroutine. A full queue drops the
// message rather than blocking the caller or retrying, per the outbound
// backpressure contract: a slow peer loses messages, it never stalls the
// node.
func (c *Conn) Send(msg wire.Message) error {
	select {
	case c.out <- msg:
		return nil
	default:
		log.Warn("outbound queue full, dropping message", "peer", c.peer.ID(), "tag", msg.Tag())
		return nil
	}
}

// Disconnect sends a Disconnect frame best-effort and tears down the
// connection.
func (c *Conn) Disconnect(reason types.DisconnectReason) {
	select {
	case c.out <- wire.Disconnect{Reason: reason}:
	default:
	}
	c.Close()
}

// Close shuts the connection down idempotently.
func (c *Conn) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	c.raw.Close()
}

// WriteLoop drains the outbound channel to the socket until Close.
func (c *Conn) WriteLoop() {
	for {
		select {
		case <-c.closed:
			return
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.writer.WriteMessage(msg); err != nil {
				log.Debug("write loop exiting", "peer", c.peer.ID(), "err", err)
				c.Close()
				return
			}
		}
	}
}

// ReadLoop decodes frames and feeds them to dispatch until the connection
// fails or dispatch reports a protocol violation, in which case the
// connection is torn down with ReasonProtocolViolation.
func (c *Conn) ReadLoop(dispatch func(wire.Message) error) {
	defer c.Close()
	for {
		msg, err := c.reader.ReadMessage()
		if err != nil {
			log.Debug("read loop exiting", "peer", c.peer.ID(), "err", err)
			return
		}
		if err := dispatch(msg); err != nil {
			var nerr *nodeerr.Error
			if errors.As(err, &nerr) && nerr.Class == nodeerr.ClassProtocolViolation {
				log.Warn("protocol violation, disconnecting", "peer", c.peer.ID(), "err", err)
				c.peer.Disconnect(types.ReasonProtocolViolation)
				return
			}
			log.Warn("message dispatch failed", "peer", c.peer.ID(), "err", err)
		}
	}
}

// PingLoop sends a Ping every PingSleep until Close, advancing the peer's
// own Ping clock so DueForPing stays accurate between ticks driven
// elsewhere (e.g. a shared Heartbeat).
func (c *Conn) PingLoop(buildPing func() wire.Ping) {
	ticker := time.NewTicker(params.PingSleep)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.peer.RecordPing(time.Now())
			if err := c.Send(buildPing()); err != nil {
				return
			}
		}
	}
}

// ProbeListenerReachable dials addr with ConnectionTimeout and reports
// success, used by the handshake's YourPortIsClosed check.
func ProbeListenerReachable(ip net.IP, port uint16) bool {
	addr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, params.ConnectionTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

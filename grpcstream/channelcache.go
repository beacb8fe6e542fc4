/*
SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package grpcstream

// ChannelCache fills a gap the source spec leaves open: it never says who
// owns the lifecycle of the underlying gRPC channel shared by many Adapters
// dialed at the same address. Without this, every Open would dial its own
// channel, defeating gRPC's own connection multiplexing. ChannelCache keeps
// one *grpc.ClientConn per target and reference-counts it the same way
// xbuf.Buffer reference-counts backing storage: the connection is closed
// when the last holder calls the release func Acquire returned.

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// DialFunc abstracts grpc.NewClient so tests can substitute bufconn dialers.
type DialFunc func(ctx context.Context, target string, creds credentials.TransportCredentials) (*grpc.ClientConn, error)

func defaultDial(_ context.Context, target string, creds credentials.TransportCredentials) (*grpc.ClientConn, error) {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	return grpc.NewClient(target, grpc.WithTransportCredentials(creds))
}

type cachedConn struct {
	conn *grpc.ClientConn
	refs int
}

// ChannelCache hands out reference-counted *grpc.ClientConn by target
// address, dialing lazily and closing once the last reference is released.
type ChannelCache struct {
	mu    sync.Mutex
	conns map[string]*cachedConn
	dial  DialFunc
}

// NewChannelCache constructs an empty cache. A nil dial uses grpc.NewClient
// with the credentials passed to Acquire, falling back to insecure transport
// credentials when those are nil.
func NewChannelCache(dial DialFunc) *ChannelCache {
	if dial == nil {
		dial = defaultDial
	}
	return &ChannelCache{conns: make(map[string]*cachedConn), dial: dial}
}

// Acquire returns the shared connection for target, dialing it if this is
// the first reference. The caller calls the returned release func once it
// is done with the connection (Adapter.Close does not call it); calls after
// the first have no effect.
func (c *ChannelCache) Acquire(ctx context.Context, target string, creds credentials.TransportCredentials) (*grpc.ClientConn, func(), error) {
	c.mu.Lock()
	if cc, ok := c.conns[target]; ok {
		cc.refs++
		c.mu.Unlock()
		return cc.conn, c.releaseFunc(target), nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx, target, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("grpcstream: dialing %s: %w", target, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[target]; ok {
		// Lost a race with a concurrent Acquire; use the winner's
		// connection and tear down the redundant dial.
		cc.refs++
		_ = conn.Close()
		return cc.conn, c.releaseFunc(target), nil
	}
	c.conns[target] = &cachedConn{conn: conn, refs: 1}
	return conn, c.releaseFunc(target), nil
}

func (c *ChannelCache) releaseFunc(target string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			cc, ok := c.conns[target]
			if !ok {
				return
			}
			cc.refs--
			if cc.refs <= 0 {
				delete(c.conns, target)
				_ = cc.conn.Close()
			}
		})
	}
}

// Close tears down every cached connection regardless of outstanding
// reference counts. Intended for process shutdown.
func (c *ChannelCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for target, cc := range c.conns {
		if err := cc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, target)
	}
	return firstErr
}

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

// Command streamdemo opens one gRPC stream adapter against a target and
// drives a short write/read exchange or, with -demo-tls-loopback, instead
// runs a write/read round trip between two TLS channels over an in-process
// pipe. It exists to exercise the module's
// pieces together, the same role the router's main.go plays for the
// session/tunnel plumbing it was adapted from.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conduitio/bwlimit"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/credentials/insecure"

	"go.mongodb.org/mongo-stream-core/config"
	"go.mongodb.org/mongo-stream-core/grpcstream"
	"go.mongodb.org/mongo-stream-core/internal/xbuf"
	"go.mongodb.org/mongo-stream-core/metrics"
	"go.mongodb.org/mongo-stream-core/tlschannel"
	"go.mongodb.org/mongo-stream-core/tlschannel/cryptotlsengine"
)

var (
	configPath    = flag.String("config", "", "YAML config file (optional, overlays defaults)")
	demoTLSLoop   = flag.Bool("demo-tls-loopback", false, "Exercise the TLS channel over an in-process loopback instead of dialing")
	readLimitBps  = flag.Int64("read-bytes-per-sec", 0, "Throttle TLS demo loopback reads (0 = unthrottled)")
	writeLimitBps = flag.Int64("write-bytes-per-sec", 0, "Throttle TLS demo loopback writes (0 = unthrottled)")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	collectors := metrics.New()
	collectors.MustRegister(prometheus.DefaultRegisterer)

	metricsServer := &http.Server{Addr: cfg.MetricsBindAddress, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *demoTLSLoop {
		if err := runTLSLoopback(ctx, logger, collectors); err != nil {
			logger.Error("tls loopback demo failed", "error", err)
		}
	} else {
		if err := runGRPCStream(ctx, cfg, logger, collectors); err != nil {
			logger.Error("grpc stream demo failed", "error", err)
		}
	}

	_ = metricsServer.Close()
}

// runGRPCStream opens one bidirectional stream against cfg.Address, writes
// a small wire-protocol message, and reads it back.
func runGRPCStream(ctx context.Context, cfg config.Config, logger *slog.Logger, collectors *metrics.Collectors) error {
	cache := grpcstream.NewChannelCache(nil)
	defer cache.Close()

	conn, release, err := cache.Acquire(ctx, cfg.Address, insecure.NewCredentials())
	if err != nil {
		return err
	}
	defer release()

	adapter := grpcstream.New(grpcstream.Options{
		Conn:           conn,
		ClientID:       cfg.ClientID,
		ClientMetadata: cfg.ClientMetadata,
		ReadTimeout:    cfg.ReadTimeout,
		Clock:          clockwork.NewRealClock(),
		Logger:         logger,
		Metrics:        collectors,
	})
	defer adapter.Close()

	if err := adapter.Open(ctx); err != nil {
		return err
	}

	payload, err := adapter.GetBuffer(5)
	if err != nil {
		return err
	}
	payload.Put([]byte("hello"))
	payload.Flip()

	if err := adapter.Write(ctx, xbuf.List{payload}); err != nil {
		return err
	}

	reply, err := adapter.Read(ctx, 5, 0)
	if err != nil {
		return err
	}
	defer reply.Release()

	logger.Info("round trip complete", "bytes", reply.Remaining())
	return nil
}

// runTLSLoopback bridges two Channels over net.Pipe with self-signed
// certificates, exercising the handshake and one write/read round trip
// entirely in-process.
func runTLSLoopback(ctx context.Context, logger *slog.Logger, collectors *metrics.Collectors) error {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return err
	}

	clientTransport, serverTransport := net.Pipe()

	var limitRead, limitWrite bwlimit.Byte
	if *readLimitBps > 0 {
		limitRead = bwlimit.Byte(*readLimitBps)
	}
	if *writeLimitBps > 0 {
		limitWrite = bwlimit.Byte(*writeLimitBps)
	}

	clientChannel := tlschannel.New(tlschannel.Options{
		Transport: tlschannel.NewRateLimitedTransport(pipeTransport{clientTransport}, limitRead, limitWrite),
		Engine:    cryptotlsengine.NewClient(&tls.Config{InsecureSkipVerify: true}),
		Metrics:   collectors,
		Clock:     clockwork.NewRealClock(),
	})
	serverChannel := tlschannel.New(tlschannel.Options{
		Transport: pipeTransport{serverTransport},
		Engine:    cryptotlsengine.NewServer(&tls.Config{Certificates: []tls.Certificate{cert}}),
		Metrics:   collectors,
		Clock:     clockwork.NewRealClock(),
	})

	errCh := make(chan error, 1)
	go func() {
		dst := xbuf.NewSet(mustBuffer(1024))
		n, err := serverChannel.Read(dst)
		if err != nil {
			errCh <- err
			return
		}
		logger.Info("server received plaintext", "bytes", n)
		errCh <- nil
	}()

	src := mustBuffer(1024)
	for i := 0; i < src.Cap(); i++ {
		src.Put([]byte{0xAB})
	}
	src.Flip()
	if _, err := clientChannel.Write(xbuf.NewSet(src)); err != nil {
		return err
	}

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
	}

	_ = clientChannel.Close()
	_ = serverChannel.Close()
	return nil
}

func mustBuffer(size int) *xbuf.Buffer {
	b, err := xbuf.SimpleAllocator{}.Get(size)
	if err != nil {
		panic(err)
	}
	return b
}

// pipeTransport adapts net.Conn (which has no bare Close-only Closer
// distinct from the rest) to tlschannel.Transport.
type pipeTransport struct{ net.Conn }

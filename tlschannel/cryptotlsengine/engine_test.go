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

package cryptotlsengine

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"go.mongodb.org/mongo-stream-core/internal/xbuf"
	"go.mongodb.org/mongo-stream-core/tlschannel"
)

// generateSelfSignedCert builds an ephemeral ECDSA certificate for this
// test only, the same shape as cmd/streamdemo's loopback demo cert.
func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "cryptotlsengine-test"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// TestEngineHandshakeAndRoundTrip drives two real crypto/tls engines over a
// pair of in-process net.Pipe transports through tlschannel.Channel,
// exercising the grantWindow polling bridge (spec.md §8.4) end to end
// instead of through fakeEngine.
func TestEngineHandshakeAndRoundTrip(t *testing.T) {
	cert := generateSelfSignedCert(t)
	pool := x509.NewCertPool()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pool.AddCert(leaf)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientEngine := NewClient(&tls.Config{RootCAs: pool, ServerName: "cryptotlsengine-test"})
	serverEngine := NewServer(&tls.Config{Certificates: []tls.Certificate{cert}})

	client := tlschannel.New(tlschannel.Options{
		Transport:           clientConn,
		Engine:              clientEngine,
		PlaintextAllocator:  xbuf.SimpleAllocator{},
		CiphertextAllocator: xbuf.SimpleAllocator{},
	})
	server := tlschannel.New(tlschannel.Options{
		Transport:           serverConn,
		Engine:              serverEngine,
		PlaintextAllocator:  xbuf.SimpleAllocator{},
		CiphertextAllocator: xbuf.SimpleAllocator{},
	})

	errc := make(chan error, 2)
	go func() { errc <- client.Handshake() }()
	go func() { errc <- server.Handshake() }()
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}

	if got := client.Engine().GetSession().Protocol(); got == "" || got == "unknown" {
		t.Fatalf("expected a negotiated TLS protocol, got %q", got)
	}

	payload := bytes.Repeat([]byte{0xCD}, 4096)
	src := xbuf.NewSet(xbuf.New("payload", payload))

	writeErrc := make(chan error, 1)
	go func() {
		_, err := client.Write(src)
		writeErrc <- err
	}()

	dst := xbuf.New("dest", make([]byte, 4096))
	dstSet := xbuf.NewSet(dst)

	got := 0
	for got < 4096 {
		n, err := server.Read(dstSet)
		if err != nil {
			t.Fatalf("server Read: %v", err)
		}
		if n <= 0 {
			t.Fatalf("server Read returned non-positive progress: %d", n)
		}
		got += n
	}
	if err := <-writeErrc; err != nil {
		t.Fatalf("client Write: %v", err)
	}

	dst.Flip()
	if !bytes.Equal(dst.Bytes(), payload) {
		t.Fatalf("payload mismatch after round trip")
	}
}

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

package tlschannel

import (
	"testing"

	"go.mongodb.org/mongo-stream-core/streamerr"
)

// buildClientHello assembles a minimal synthetic TLS record carrying a
// ClientHello with a single server_name extension, just enough of the wire
// format for ParseClientHelloSNI to walk down to the extension.
func buildClientHello(t *testing.T, hostname string) []byte {
	t.Helper()

	name := []byte(hostname)
	// server_name entry: type(1) + len(2) + name
	nameEntry := append([]byte{ServerNameTypeHostName, byte(len(name) >> 8), byte(len(name))}, name...)
	// server_name_list: len(2) + entries
	nameList := append([]byte{byte(len(nameEntry) >> 8), byte(len(nameEntry))}, nameEntry...)
	// extension: type(2)=0 + len(2) + server_name_list
	ext := append([]byte{0x00, 0x00, byte(len(nameList) >> 8), byte(len(nameList))}, nameList...)
	// extensions block: total len(2) + ext
	extensions := append([]byte{byte(len(ext) >> 8), byte(len(ext))}, ext...)

	body := []byte{0x03, 0x03} // client_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session_id_len
	body = append(body, 0x00, 0x02, 0x00, 0x2f) // cipher_suites (len=2, one suite)
	body = append(body, 0x01, 0x00)          // compression_methods (len=1, null)
	body = append(body, extensions...)

	handshake := append([]byte{handshakeTypeClientHello, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)

	record := append([]byte{recordTypeHandshake, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)
	return record
}

func TestParseClientHelloSNI(t *testing.T) {
	record := buildClientHello(t, "example.mongodb.net")

	names, err := ParseClientHelloSNI(record)
	if err != nil {
		t.Fatalf("ParseClientHelloSNI: %v", err)
	}
	if got, want := names[ServerNameTypeHostName], "example.mongodb.net"; got != want {
		t.Fatalf("server name = %q, want %q", got, want)
	}
}

func TestParseClientHelloSNINoExtensions(t *testing.T) {
	// A ClientHello with an empty (but present) extensions block.
	body := []byte{0x03, 0x03}
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)
	body = append(body, 0x00, 0x02, 0x00, 0x2f)
	body = append(body, 0x01, 0x00)
	body = append(body, 0x00, 0x00) // extensions length = 0

	handshake := append([]byte{handshakeTypeClientHello, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
	hello := append([]byte{recordTypeHandshake, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)

	names, err := ParseClientHelloSNI(hello)
	if err != nil {
		t.Fatalf("ParseClientHelloSNI: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no server names, got %v", names)
	}
}

func TestParseClientHelloSNINotHandshakeRecord(t *testing.T) {
	data := []byte{0x17, 0x03, 0x03, 0x00, 0x01, 0x00} // application_data record type
	_, err := ParseClientHelloSNI(data)
	assertTlsProtocolError(t, err)
}

func TestParseClientHelloSNIWrongHandshakeType(t *testing.T) {
	// handshake type 2 (ServerHello) instead of 1 (ClientHello).
	body := []byte{0x00, 0x00, 0x00}
	handshake := append([]byte{0x02, 0x00, 0x00, byte(len(body))}, body...)
	record := append([]byte{recordTypeHandshake, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)

	_, err := ParseClientHelloSNI(record)
	assertTlsProtocolError(t, err)
}

func TestParseClientHelloSNITruncatedRecord(t *testing.T) {
	data := []byte{recordTypeHandshake, 0x03, 0x03, 0x00, 0xff} // declares 255 bytes, has none
	_, err := ParseClientHelloSNI(data)
	assertTlsProtocolError(t, err)
}

func TestParseClientHelloSNIDuplicateServerName(t *testing.T) {
	name := []byte("dup.example.com")
	nameEntry := append([]byte{ServerNameTypeHostName, byte(len(name) >> 8), byte(len(name))}, name...)
	nameList := append([]byte{byte(len(nameEntry) >> 8), byte(len(nameEntry))}, nameEntry...)
	// Two identical server_name entries back to back in one list.
	dupNameList := append([]byte{}, nameList...)
	dupNameList = append(dupNameList, nameEntry...)
	// Patch the list length to cover both entries.
	totalLen := len(nameEntry) * 2
	dupNameList[0] = byte(totalLen >> 8)
	dupNameList[1] = byte(totalLen)

	ext := append([]byte{0x00, 0x00, byte(len(dupNameList) >> 8), byte(len(dupNameList))}, dupNameList...)
	extensions := append([]byte{byte(len(ext) >> 8), byte(len(ext))}, ext...)

	body := []byte{0x03, 0x03}
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)
	body = append(body, 0x00, 0x02, 0x00, 0x2f)
	body = append(body, 0x01, 0x00)
	body = append(body, extensions...)

	handshake := append([]byte{handshakeTypeClientHello, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
	record := append([]byte{recordTypeHandshake, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)

	_, err := ParseClientHelloSNI(record)
	assertTlsProtocolError(t, err)
}

func assertTlsProtocolError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if !streamerr.IsKind(err, streamerr.TlsProtocol) {
		t.Fatalf("expected streamerr.TlsProtocol, got %v", err)
	}
}

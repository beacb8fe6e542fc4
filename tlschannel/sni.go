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

import "go.mongodb.org/mongo-stream-core/streamerr"

// SNI record/handshake constants, per RFC 8446 §4 and RFC 6066 §3. Only the
// fields needed to walk down to the server_name extension are named; the
// parser does not validate anything it does not need to reach that far.
const (
	recordTypeHandshake   = 22
	handshakeTypeClientHello = 1
	extensionServerName   = 0

	// ServerNameTypeHostName is the only server-name type defined today.
	ServerNameTypeHostName = 0
)

// ParseClientHelloSNI decodes the initial ClientHello record in data to
// extract the server_name extension, the way a TLS-terminating proxy peeks
// at SNI before the engine takes over. It fails with a streamerr.TlsProtocol
// error when the record is malformed, not a ClientHello, a declared length
// exceeds the buffer, or a server-name type repeats.
func ParseClientHelloSNI(data []byte) (map[int]string, error) {
	r := &sniReader{data: data}

	if r.u8() != recordTypeHandshake {
		return nil, protoErr("not a handshake record")
	}
	r.skip(2) // legacy_record_version
	recordLen := r.u16()
	if r.remaining() < int(recordLen) {
		return nil, protoErr("record length exceeds buffer")
	}

	if r.u8() != handshakeTypeClientHello {
		return nil, protoErr("handshake type is not ClientHello")
	}
	msgLen := r.u24()
	if r.remaining() < int(msgLen) {
		return nil, protoErr("handshake message length exceeds buffer")
	}

	r.skip(2)  // client_version
	r.skip(32) // random
	sessIDLen := r.u8()
	r.skip(int(sessIDLen))
	cipherSuitesLen := r.u16()
	r.skip(int(cipherSuitesLen))
	compMethodsLen := r.u8()
	r.skip(int(compMethodsLen))

	if r.err != nil {
		return nil, protoErr("truncated ClientHello before extensions")
	}
	if r.remaining() == 0 {
		return map[int]string{}, nil
	}

	extTotalLen := r.u16()
	if r.remaining() < int(extTotalLen) {
		return nil, protoErr("extensions length exceeds buffer")
	}
	extEnd := r.pos + int(extTotalLen)

	names := make(map[int]string)
	for r.pos < extEnd {
		extType := r.u16()
		extLen := r.u16()
		if r.err != nil || r.pos+int(extLen) > extEnd {
			return nil, protoErr("extension length exceeds extensions block")
		}
		if extType != extensionServerName {
			r.skip(int(extLen))
			continue
		}
		if err := parseServerNameExtension(r.data[r.pos:r.pos+int(extLen)], names); err != nil {
			return nil, err
		}
		r.skip(int(extLen))
	}
	if r.err != nil {
		return nil, protoErr("malformed ClientHello")
	}
	return names, nil
}

func parseServerNameExtension(data []byte, out map[int]string) error {
	r := &sniReader{data: data}
	listLen := r.u16()
	if r.remaining() < int(listLen) {
		return protoErr("server_name_list length exceeds extension")
	}
	end := r.pos + int(listLen)
	for r.pos < end {
		nameType := int(r.u8())
		nameLen := r.u16()
		if r.err != nil || r.pos+int(nameLen) > end {
			return protoErr("server name length exceeds list")
		}
		if _, dup := out[nameType]; dup {
			return protoErr("duplicate server name type")
		}
		out[nameType] = string(r.data[r.pos : r.pos+int(nameLen)])
		r.skip(int(nameLen))
	}
	if r.err != nil {
		return protoErr("malformed server_name extension")
	}
	return nil
}

type sniReader struct {
	data []byte
	pos  int
	err  error
}

func (r *sniReader) remaining() int { return len(r.data) - r.pos }

func (r *sniReader) u8() uint8 {
	if r.err != nil || r.remaining() < 1 {
		r.err = errShort
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *sniReader) u16() uint16 {
	if r.err != nil || r.remaining() < 2 {
		r.err = errShort
		return 0
	}
	v := uint16(r.data[r.pos])<<8 | uint16(r.data[r.pos+1])
	r.pos += 2
	return v
}

func (r *sniReader) u24() uint32 {
	if r.err != nil || r.remaining() < 3 {
		r.err = errShort
		return 0
	}
	v := uint32(r.data[r.pos])<<16 | uint32(r.data[r.pos+1])<<8 | uint32(r.data[r.pos+2])
	r.pos += 3
	return v
}

func (r *sniReader) skip(n int) {
	if r.err != nil {
		return
	}
	if r.remaining() < n {
		r.err = errShort
		return
	}
	r.pos += n
}

var errShort = protoErr("truncated field")

func protoErr(msg string) error {
	return streamerr.New(streamerr.TlsProtocol, "sni: "+msg)
}

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

package xtime

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Combine implements spec.md's gRPC read deadline rule: the deadline is the
// per-socket read timeout plus any caller-supplied additional timeout, and a
// read timeout of zero (or negative) means infinite regardless of
// additional.
func Combine(clock clockwork.Clock, readTimeout, additional time.Duration) Timeout {
	if readTimeout <= 0 {
		return Timeout{clock: clock}
	}
	if additional < 0 {
		additional = 0
	}
	return NewWithClock(clock, readTimeout+additional)
}

// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import "time"

// SoftwareVersion is reported in the instance record next to the keepalive.
// Overwritten at build time with -ldflags "-X .../internal.SoftwareVersion=..."
var SoftwareVersion = "0.1.0"

var OneHundredMilliseconds = 100 * time.Millisecond
var OneHundredFiftyMilliseconds = 150 * time.Millisecond
var TwoHundredFiftyMilliseconds = 250 * time.Millisecond
var OneSecond = 1 * time.Second
var ThreeSeconds = 3 * time.Second
var FiveSeconds = 5 * time.Second
var TenSeconds = 10 * time.Second
var ThirtySeconds = 30 * time.Second

// Redundancy
var KeepAliveInterval = FiveSeconds
var MissedKeepAliveThreshold = 4

// Store
var ReconnectDelay = FiveSeconds
var StoreOperationTimeout = ThreeSeconds

// Bulk update queue
var BulkQueueTick = OneHundredFiftyMilliseconds
var BulkQueueMaxLength = 5000
var BulkQueueMaxPerTick = 50
var BulkWriteThrottle = OneHundredMilliseconds

// Commands
var CommandExpiry = TenSeconds
var SteppedCommandMarker = "YTAP"

// Forwarding
var DefaultUDPPort = 12345
var MaxLengthJSON = 60000
var PacketSizeThreshold = 7000
var MaxPacketsPerFlush = 50
var ForwardBusyInterval = OneHundredMilliseconds
var ForwardIdleInterval = TwoHundredFiftyMilliseconds
var IntegrityPageSize int64 = 500

var ShutdownTimeout = ThirtySeconds

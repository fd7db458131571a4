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

package redundancy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// HostStats reports host load and memory together with the worker's own counters.
type HostStats struct {
	processID string
	hostID    string
	counters  func() map[string]uint64
}

// NewHostStats reads the host id once; it is stored hashed to avoid leaking machine identifiers.
func NewHostStats(counters func() map[string]uint64) *HostStats {
	s := &HostStats{
		processID: uuid.NewString(),
		counters:  counters,
	}
	info, err := host.Info()
	if err != nil {
		zap.S().Warnf("Unable to read host info: %s", err)
	} else {
		s.hostID = HashIdentifier(info.HostID)
	}
	return s
}

// ProcessID identifies this process run in logs and stats.
func (s *HostStats) ProcessID() string {
	return s.processID
}

func (s *HostStats) Collect() *datamodel.InstanceStats {
	stats := &datamodel.InstanceStats{
		ProcessID:      s.processID,
		HostID:         s.hostID,
		CollectedAtUTC: time.Now().UTC(),
	}
	if uptime, err := host.Uptime(); err == nil {
		stats.UptimeSeconds = uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsedPct = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		stats.Load1 = avg.Load1
	}
	if s.counters != nil {
		stats.Counters = s.counters()
	}
	return stats
}

// HashIdentifier returns the hex SHA3-512 of id, or "" for an empty id.
func HashIdentifier(id string) string {
	if id == "" {
		return ""
	}
	hasher := sha3.New512()
	hasher.Write([]byte(id))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

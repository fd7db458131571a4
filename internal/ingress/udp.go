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

package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
)

const maxDatagramSize = 65536

type UDPSource struct {
	conn  net.PacketConn
	dedup Deduplicator
}

// NewUDPSource binds addr right away, so a port conflict surfaces at startup.
func NewUDPSource(addr string) (*UDPSource, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &UDPSource{conn: conn}, nil
}

func (u *UDPSource) Name() string {
	return "udp"
}

func (u *UDPSource) Addr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDPSource) Run(ctx context.Context, out chan<- []byte) error {
	zap.S().Infof("Listening for updates on udp %s", u.conn.LocalAddr())
	go func() {
		<-ctx.Done()
		_ = u.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := u.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			zap.S().Warnf("Reading udp datagram: %v", err)
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		deliver(out, &u.dedup, u.Name(), msg)
	}
}

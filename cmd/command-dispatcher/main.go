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

package main

import (
	"github.com/united-manufacturing-hub/scada-core/internal/app"
	"github.com/united-manufacturing-hub/scada-core/internal/commands"
	"github.com/united-manufacturing-hub/scada-core/internal/config"
	"github.com/united-manufacturing-hub/scada-core/internal/worker"
)

func main() {
	app.Main("command-dispatcher", "IEC60870-5-104", "", func(cfg config.Config, _ string) (app.Plan, error) {
		d, err := commands.NewDispatcher(commands.Options{
			ProtocolDriver: cfg.Redundancy.ProtocolDriver,
			InstanceNumber: cfg.Redundancy.InstanceNumber,
			Expiry:         cfg.Commands.Expiry,
			Transforms:     []commands.Transform{commands.SteppedTransform{Marker: cfg.Commands.SteppedMarker}},
		})
		if err != nil {
			return app.Plan{}, err
		}
		return app.Plan{
			Module: worker.NewCommandModule(d, cfg.Redundancy.ProtocolDriver, cfg.Redundancy.InstanceNumber),
		}, nil
	})
}

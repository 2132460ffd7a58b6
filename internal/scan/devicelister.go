// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package scan

import (
	"context"
	"encoding/json"
	"fmt"

	utilexec "k8s.io/utils/exec"
)

const lsblkCommand = "lsblk"

// lsblkDevice mirrors the fields of interest from lsblk's --json output.
type lsblkDevice struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// LsblkDeviceCache enumerates block devices by shelling out to lsblk,
// adapting the teacher's internal/pkg/block.Interface.GetDevices.
type LsblkDeviceCache struct {
	exec utilexec.Interface
}

var _ DeviceCache = &LsblkDeviceCache{}

// NewLsblkDeviceCache returns a DeviceCache backed by the system lsblk
// utility.
func NewLsblkDeviceCache() *LsblkDeviceCache {
	return &LsblkDeviceCache{exec: utilexec.New()}
}

// Devices runs "lsblk --bytes --json" and parses its output into Devices.
func (l *LsblkDeviceCache) Devices(ctx context.Context) ([]Device, error) {
	if _, err := l.exec.LookPath(lsblkCommand); err != nil {
		return nil, fmt.Errorf("unable to find %s in PATH: %w", lsblkCommand, err)
	}

	cmd := l.exec.CommandContext(ctx, lsblkCommand, "--bytes", "--json", "--output", "NAME,SIZE")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("lsblk failed: %w, output: %s", err, string(out))
	}

	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	devs := make([]Device, 0, len(parsed.BlockDevices))
	for _, d := range parsed.BlockDevices {
		devs = append(devs, NewDevice("/dev/"+d.Name, d.Size))
	}
	if len(devs) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devs, nil
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package scan

import (
	"context"

	"lvmcache/internal/cache"
)

// FakeDeviceCache is a DeviceCache backed by an in-memory device list,
// adapting the teacher's probe.Fake for a collaborator that never
// touches real block devices.
type FakeDeviceCache struct {
	DeviceList []Device
	Err        error
}

// NewFakeDeviceCache constructs a FakeDeviceCache listing devices.
func NewFakeDeviceCache(devices ...Device) *FakeDeviceCache {
	return &FakeDeviceCache{DeviceList: devices}
}

// Devices implements DeviceCache.
func (f *FakeDeviceCache) Devices(ctx context.Context) ([]Device, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.DeviceList) == 0 {
		return nil, ErrNoDevicesFound
	}
	return f.DeviceList, nil
}

var _ DeviceCache = (*FakeDeviceCache)(nil)

// FakeLabelReader is a LabelReader backed by a fixed device-path to
// ScanResult map, for tests and the demo command that exercise the
// cache end to end without real label I/O.
type FakeLabelReader struct {
	Results map[string]ScanResult
	Err     error
}

// NewFakeLabelReader constructs a FakeLabelReader keyed by device path.
func NewFakeLabelReader(results map[string]ScanResult) *FakeLabelReader {
	return &FakeLabelReader{Results: results}
}

// Read implements LabelReader.
func (f *FakeLabelReader) Read(ctx context.Context, device Device) (ScanResult, bool, error) {
	if f.Err != nil {
		return ScanResult{}, false, f.Err
	}
	result, ok := f.Results[device.Path()]
	return result, ok, nil
}

var _ LabelReader = (*FakeLabelReader)(nil)

// FakeLabeller is a minimal cache.Labeller used by tests and the demo
// command to stand in for a real on-disk label format.
type FakeLabeller struct {
	FormatName string
}

// Name implements cache.Labeller.
func (f FakeLabeller) Name() string { return f.FormatName }

var _ cache.Labeller = FakeLabeller{}

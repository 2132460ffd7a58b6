// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package scan models the external collaborators spec.md §1 treats as
// out of scope for the cache itself: device enumeration (dev_cache)
// and label reading (label_scan/label_read). The cache never performs
// I/O; callers drive it by scanning with these interfaces and feeding
// the results through cache.Cache.Add.
package scan

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/gotidy/ptr"

	"lvmcache/internal/cache"
)

// ErrNoDevicesFound is returned when a device cache has nothing to offer.
var ErrNoDevicesFound = fmt.Errorf("no devices found")

// DeviceCache enumerates the block devices visible on the host,
// adapting internal/pkg/block.Interface's lsblk-backed device listing
// (dev_cache collaborator).
//
//go:generate mockgen -destination=mock_scan.go -mock_names=DeviceCache=MockDeviceCache -package=scan -source=scan.go DeviceCache
type DeviceCache interface {
	// Devices lists every block device currently visible on the host.
	Devices(ctx context.Context) ([]Device, error)
}

// Device is a raw block device as reported by the device cache, before
// any label has been read from it. It implements cache.Device.
type Device struct {
	path string
	size uint64
}

// NewDevice constructs a Device for path with the given size in bytes.
func NewDevice(path string, size uint64) Device { return Device{path: path, size: size} }

// Path implements cache.Device.
func (d Device) Path() string { return d.path }

// Size returns the device's size in bytes, as last reported by the
// device cache.
func (d Device) Size() uint64 { return d.size }

var _ cache.Device = Device{}

// Witness is the metadata-area witness data a label read produces for
// one device, feeding cache.Summary's seqno/size/checksum fields.
type Witness struct {
	Seqno       uint64
	MDASize     uint64
	MDAChecksum uint32
}

// ScanResult is the (device, label, summary) triple a label read
// produces for one device — the unit LabelReader.Read emits and the
// cache's Add/update pipeline consumes (§1's label_scan/label_read).
type ScanResult struct {
	Device   Device
	PVID     cache.PVID
	Labeller cache.Labeller
	VGName   string
	VGID     cache.VGID
	VGStatus cache.VGStatus

	CreationHost string
	LockType     string
	SystemID     string

	Witness *Witness // nil when the device carries no readable metadata area

	// Duplicate-resolution evidence (§4.4): a reader that also
	// interrogates the device (size, mount table, device-mapper major,
	// subsystem membership) reports it here so Scan can hand it to
	// cache.Resolve without a second pass over the device.
	SizeMatches    bool
	Mounted        bool
	DeviceMapper   bool
	DMMajorIsStale bool
	Subsystem      string
	MDMajor        bool
}

// duplicateInput builds the cache.DuplicateInput evidence Resolve
// needs for one side of a duplicate-PV comparison, reusing the
// evidence from result when one was read this pass and falling back to
// sticky-unpreference state alone otherwise (the device belongs to a
// PV already resolved in an earlier scan within this command).
func duplicateInput(c *cache.Cache, pvid cache.PVID, device Device, result ScanResult, haveResult bool) cache.DuplicateInput {
	in := cache.DuplicateInput{
		Device:         device,
		PVID:           pvid,
		StickyUnprefer: c.DevIsUnchosenDuplicate(device),
	}
	if haveResult {
		in.SizeMatches = result.SizeMatches
		in.Mounted = result.Mounted
		in.DeviceMapper = result.DeviceMapper
		in.DMMajorIsStale = result.DMMajorIsStale
		in.Subsystem = result.Subsystem
		in.MDMajor = result.MDMajor
	}
	return in
}

// LabelReader decides which devices from a DeviceCache carry a label
// worth reading and parses it into a ScanResult, adapting
// internal/pkg/probe.Interface's filter-then-read idea (label_scan /
// label_read).
//
//go:generate mockgen -destination=mock_scan.go -mock_names=LabelReader=MockLabelReader -package=scan -source=scan.go LabelReader
type LabelReader interface {
	// Read reads and parses the label on device, reporting ok=false if
	// the device carries no label this reader recognizes.
	Read(ctx context.Context, device Device) (result ScanResult, ok bool, err error)
}

// Scan walks every device reported by devices, reads each one through
// reader, and feeds every successful read through c.Add, logging and
// continuing past reader errors on individual devices rather than
// aborting the whole scan (mirrors the teacher's probe.ScanDevices
// continuing past unreadable devices).
//
// Scan brackets the pass with c.BeginScan/EndScan so that a caller who
// accidentally re-enters Scan mid-pass gets cache.ErrScanInProgress
// instead of silently corrupting the in-flight pass (§5).
func Scan(ctx context.Context, c *cache.Cache, devices DeviceCache, reader LabelReader, log logr.Logger) ([]ScanResult, error) {
	if err := c.BeginScan(); err != nil {
		return nil, err
	}
	defer c.EndScan()

	devs, err := devices.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Path() < devs[j].Path() })

	var results []ScanResult
	byDevice := make(map[string]ScanResult)
	for _, dev := range devs {
		result, ok, err := reader.Read(ctx, dev)
		if err != nil {
			log.V(0).Error(err, "label read failed, skipping device", "device", dev.Path())
			continue
		}
		if !ok {
			log.V(2).Info("device carries no recognized label", "device", dev.Path())
			continue
		}
		byDevice[result.Device.Path()] = result

		info, inserted := c.Add(ctx, result.Labeller, result.PVID, result.Device, result.VGName, result.VGID, result.VGStatus)
		if !inserted {
			log.V(1).Info("duplicate pv during scan", "device", dev.Path(), "pvid", result.PVID.String())
			continue
		}

		updateFromResult(ctx, c, info, result)
		results = append(results, result)
	}

	if c.FoundDuplicatePVs() {
		resolved, err := resolveDuplicates(ctx, c, reader, byDevice, log)
		if err != nil {
			return results, fmt.Errorf("resolve duplicate pvs: %w", err)
		}
		results = append(results, resolved...)
	}

	return results, nil
}

// updateFromResult feeds result's fully witnessed summary through the
// update pipeline. Add's own summary carries no witness data (§4.1);
// this runs seqno/checksum reconciliation and creation-host/lock-type/
// system-id refresh against the read (§4.3, §6).
func updateFromResult(ctx context.Context, c *cache.Cache, info *cache.PVInfo, result ScanResult) {
	summary := cache.Summary{
		VGName:       result.VGName,
		VGID:         result.VGID,
		VGStatus:     result.VGStatus,
		CreationHost: result.CreationHost,
		LockType:     result.LockType,
		SystemID:     result.SystemID,
	}
	if result.Witness != nil {
		summary.Seqno = ptr.Of(result.Witness.Seqno)
		summary.MDASize = ptr.Of(result.Witness.MDASize)
		summary.MDAChecksum = ptr.Of(result.Witness.MDAChecksum)
	}
	c.UpdateVGNameAndID(ctx, info, summary)
}

// resolveDuplicates builds DuplicateInput evidence for every PV id the
// device loop found more than one device for, runs it through
// c.Resolve, removes the losers from the registry, and rescans each
// winner that Add had rejected as a duplicate candidate (the caller's
// half of §4.4's "the resolver rewrites the registry to keep preferred
// devices only, and the caller rescans the preferred device").
func resolveDuplicates(ctx context.Context, c *cache.Cache, reader LabelReader, byDevice map[string]ScanResult, log logr.Logger) ([]ScanResult, error) {
	candidates := c.FoundDuplicateCandidates()

	cmds := make([]cache.DuplicateInput, 0, len(candidates))
	seenPVID := make(map[cache.PVID]bool)
	for _, cand := range candidates {
		if !seenPVID[cand.PVID] {
			seenPVID[cand.PVID] = true
			if info, ok := c.GetInfoByPVID(cand.PVID, nil); ok {
				r, haveResult := byDevice[info.Device.Path()]
				cmds = append(cmds, duplicateInput(c, cand.PVID, info.Device, r, haveResult))
			}
		}
		r, haveResult := byDevice[cand.Device.Path()]
		cmds = append(cmds, duplicateInput(c, cand.PVID, cand.Device, r, haveResult))
	}

	dropped, kept, err := c.Resolve(ctx, cmds...)
	if err != nil {
		return nil, err
	}

	for _, dev := range dropped {
		log.V(1).Info("removing unused duplicate device from registry", "device", dev.Path())
		c.DelDev(dev)
	}

	// Rescan every preferred device Add had originally rejected as a
	// duplicate candidate: the cache only exposes kept/dropped as
	// cache.Device (the registry's view), so the concrete scan.Device to
	// feed back to reader.Read comes from the result this same pass
	// already read off it (§4.4's "caller rescans the preferred
	// device").
	var rescanned []ScanResult
	for _, dev := range kept {
		if _, ok := c.GetInfoByDevice(dev); ok {
			continue // already the device Add left in the registry
		}
		cached, ok := byDevice[dev.Path()]
		if !ok {
			log.V(0).Info("preferred duplicate device has no scan result to rescan", "device", dev.Path())
			continue
		}
		result, ok, err := reader.Read(ctx, cached.Device)
		if err != nil {
			log.V(0).Error(err, "rescan of preferred duplicate device failed", "device", dev.Path())
			continue
		}
		if !ok {
			log.V(0).Info("preferred duplicate device no longer carries a recognized label", "device", dev.Path())
			continue
		}
		info, inserted := c.Add(ctx, result.Labeller, result.PVID, result.Device, result.VGName, result.VGID, result.VGStatus)
		if !inserted {
			log.V(0).Info("rescan of preferred duplicate device was rejected", "device", dev.Path())
			continue
		}
		updateFromResult(ctx, c, info, result)
		rescanned = append(rescanned, result)
	}
	return rescanned, nil
}

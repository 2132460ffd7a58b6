// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import (
	"context"
	"os"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GetInfoByPVID looks up a PVInfo by PV id. If device is non-nil and
// the cached info's device differs from it, the lookup reports not
// found — this protects duplicate handling from returning the wrong
// device's info (§4.1).
func (c *Cache) GetInfoByPVID(pvid PVID, device Device) (*PVInfo, bool) {
	info, ok := c.pvByID[pvid]
	if !ok {
		return nil, false
	}
	if device != nil && info.Device.Path() != device.Path() {
		return nil, false
	}
	return info, true
}

// GetInfoByDevice looks up a PVInfo by the device it was last labeled
// on.
func (c *Cache) GetInfoByDevice(device Device) (*PVInfo, bool) {
	info, ok := c.devInfo[device.Path()]
	return info, ok
}

// GetVGInfoByName walks the alias chain for name and returns the entry
// whose id matches vgid. If vgid is the zero value, the primary (head
// of chain) is returned. If name is empty, the lookup falls through to
// the id index (§4.1).
func (c *Cache) GetVGInfoByName(name string, vgid VGID) (*VGInfo, bool) {
	if name == "" {
		if vgid.IsZero() {
			return nil, false
		}
		return c.GetVGInfoByVGID(vgid)
	}
	head, ok := c.vgByName[name]
	if !ok {
		return nil, false
	}
	if vgid.IsZero() {
		return head, true
	}
	for vg := head; vg != nil; vg = vg.next {
		if vg.ID == vgid {
			return vg, true
		}
	}
	return nil, false
}

// GetVGInfoByVGID looks up a VGInfo by its id.
func (c *Cache) GetVGInfoByVGID(vgid VGID) (*VGInfo, bool) {
	vg, ok := c.vgByID[vgid]
	return vg, ok
}

// VGIDFromVGName returns the id of the VG named name, but only if
// exactly one VG carries that name; otherwise it fails with
// ErrAmbiguousVGName (§4.1).
func (c *Cache) VGIDFromVGName(name string) (VGID, error) {
	head, ok := c.vgByName[name]
	if !ok {
		return VGID{}, ErrNotFound
	}
	if head.next != nil {
		return VGID{}, ErrAmbiguousVGName
	}
	return head.ID, nil
}

// BeginScan marks a label scan as in progress, failing fast if one is
// already running rather than allowing the scan to recurse (§5).
func (c *Cache) BeginScan() error {
	if c.scanningInProgress {
		return ErrScanInProgress
	}
	c.scanningInProgress = true
	return nil
}

// EndScan clears the re-entrancy guard set by BeginScan.
func (c *Cache) EndScan() {
	c.scanningInProgress = false
}

// Add finds or creates a PVInfo for pvid on device, and feeds it
// through the update pipeline to place it under the right VG.
//
// If a PVInfo already exists for pvid on a different device, Add
// records the new device on the found-duplicates list, leaves the
// registry pointing at the existing device, and returns (nil, false)
// — "not inserted" (§4.1, §9 Open Questions: the spec normalizes to
// this behavior because the duplicate resolver depends on it). Only
// the new device is recorded; the existing device is not added to the
// found-duplicates list.
func (c *Cache) Add(ctx context.Context, labeller Labeller, pvid PVID, device Device, vgname string, vgid VGID, vgstatus VGStatus) (*PVInfo, bool) {
	ctx, span := c.tracer.Start(ctx, "cache.Add", trace.WithAttributes(attribute.String("pvid", pvid.String())))
	defer span.End()

	if existing, ok := c.pvByID[pvid]; ok && existing.Device.Path() != device.Path() {
		c.foundDuplicates = append(c.foundDuplicates, duplicateCandidate{pvid: pvid, device: device})
		c.log.V(1).Info("duplicate pv id detected", "pvid", pvid.String(), "existing", existing.Device.Path(), "candidate", device.Path())
		span.SetStatus(codes.Ok, "duplicate recorded")
		if c.metrics != nil {
			c.metrics.duplicatesFound.Inc()
		}
		return nil, false
	}

	info, ok := c.pvByID[pvid]
	if !ok {
		info = &PVInfo{
			Device:   device,
			PVID:     pvid,
			Labeller: labeller,
		}
		c.pvByID[pvid] = info
		c.devInfo[device.Path()] = info
	} else if info.Labeller != labeller {
		// The existing labeller differs: destroy and recreate the
		// label (§4.1 "Add").
		info.Labeller = labeller
		info.Label = nil
	}
	c.devInfo[device.Path()] = info

	summary := Summary{VGName: vgname, VGID: vgid, VGStatus: vgstatus}
	c.update(ctx, info, summary)

	c.refreshIndexMetrics()
	span.SetStatus(codes.Ok, "")
	return info, true
}

// Del destroys info, unlinking it from its VGInfo and clearing the
// PV-id index entry for it.
func (c *Cache) Del(info *PVInfo) {
	if info == nil {
		return
	}
	c.detach(info)
	delete(c.pvByID, info.PVID)
	delete(c.devInfo, info.Device.Path())
	c.refreshIndexMetrics()
}

// DelDev destroys the PVInfo currently labeled on device, if any.
func (c *Cache) DelDev(device Device) {
	info, ok := c.devInfo[device.Path()]
	if !ok {
		return
	}
	c.Del(info)
}

// AddOrphanVGInfo finds or creates the orphan VGInfo for the given
// name (an orphan sentinel name such as "#orphans_lvm2") and format.
// Orphan VGInfos are appended at the tail of the global VG list and
// are exempt from detach's empty-VG destruction rule. Each orphan gets
// its own freshly generated id, so that distinct orphan formats never
// collide on the zero VGID in the VG-id index.
func (c *Cache) AddOrphanVGInfo(name, format string) *VGInfo {
	if vg, ok := c.vgByName[name]; ok {
		return vg
	}
	vg := &VGInfo{
		Name:     name,
		ID:       VGID(uuid.New()),
		Format:   format,
		IsOrphan: true,
	}
	c.vgByName[name] = vg
	c.vgByID[vg.ID] = vg
	c.vgOrder = append(c.vgOrder, vg) // tail: orphans always append
	return vg
}

// VGNames enumerates every distinct VG name currently in the registry,
// in deterministic sorted order.
func (c *Cache) VGNames() []string {
	names := make([]string, 0, len(c.vgByName))
	for name := range c.vgByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VGIDs enumerates every VG id currently in the registry.
func (c *Cache) VGIDs() []VGID {
	ids := make([]VGID, 0, len(c.vgByID))
	for id := range c.vgByID {
		ids = append(ids, id)
	}
	return ids
}

// PVIDsIn enumerates the PV ids belonging to vg.
func (c *Cache) PVIDsIn(vg *VGInfo) []PVID {
	return vg.PVIDs()
}

// DevicesIn enumerates the devices belonging to vg.
func (c *Cache) DevicesIn(vg *VGInfo) []Device {
	return vg.Devices()
}

// MaxVGNameLen returns the length of the longest VG name currently in
// the registry, for table formatting by callers.
func (c *Cache) MaxVGNameLen() int {
	max := 0
	for name := range c.vgByName {
		if len(name) > max {
			max = len(name)
		}
	}
	return max
}

// chainInsertionWinner ranks two VGInfo candidates sharing a name per
// the policy in §4.1:
//  1. Not-exported beats exported.
//  2. Creation host equals this host beats not.
//  3. Has-creation-host beats none.
//  4. Otherwise the pre-existing entry (a) wins.
//
// It returns (winner, loser); the winner belongs at the head of the
// chain.
func chainInsertionWinner(a, b *VGInfo) (winner, loser *VGInfo) {
	if a.Exported() != b.Exported() {
		if a.Exported() {
			return b, a
		}
		return a, b
	}
	aIsLocal := a.CreationHost != "" && a.CreationHost == localHostname()
	bIsLocal := b.CreationHost != "" && b.CreationHost == localHostname()
	if aIsLocal != bIsLocal {
		if bIsLocal {
			return b, a
		}
		return a, b
	}
	aHasHost := a.CreationHost != ""
	bHasHost := b.CreationHost != ""
	if aHasHost != bHasHost {
		if bHasHost {
			return b, a
		}
		return a, b
	}
	return a, b
}

// localHostname is overridable by tests.
var localHostname = func() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

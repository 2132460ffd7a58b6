// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package cache is an in-memory metadata cache for a block-level volume
// manager. It indexes every physical volume (PV) discovered on a host
// and aggregates PVs into the volume groups (VGs) they belong to, so
// that higher layers can resolve names, find devices, and enforce
// consistency without re-reading disk labels on every call.
//
// The cache never performs I/O and never parses on-disk formats: label
// scanning, text-metadata parsing, and device enumeration are all
// external collaborators invoked through the interfaces in
// lvmcache/internal/scan. The cache is not safe for concurrent use by
// multiple goroutines; like the source it's modeled on, it assumes a
// single caller per command.
package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// PVID is a physical volume identifier.
type PVID uuid.UUID

// String formats the identifier the way cache warnings and errors do.
func (id PVID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero identifier (never assigned to a PV).
func (id PVID) IsZero() bool {
	return id == PVID{}
}

// VGID is a volume group identifier.
type VGID uuid.UUID

// String formats the identifier the way cache warnings and errors do.
func (id VGID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero identifier.
func (id VGID) IsZero() bool {
	return id == VGID{}
}

// VGStatus is a bitmask of VG status flags, as supplied by a scan summary.
type VGStatus uint32

const (
	// VGStatusExported marks a VG that has been vgexport'd. A
	// non-exported VG wins chain insertion against an exported one (§4.1).
	VGStatusExported VGStatus = 1 << iota
)

// Exported reports whether the exported bit is set.
func (s VGStatus) Exported() bool {
	return s&VGStatusExported != 0
}

// Device is a borrowed handle onto a block device owned by the external
// device cache. The core never closes or frees a Device.
type Device interface {
	// Path returns a stable, host-unique identifier for the device,
	// e.g. "/dev/sdb".
	Path() string
}

// Labeller is the external label-reader collaborator that produced a
// PV's label. Two Labellers are compared by identity: a differing
// Labeller for an already-known PV id means the label must be
// re-created (§4.1 "Add").
type Labeller interface {
	// Name identifies the on-disk label format, e.g. "lvm2".
	Name() string
}

// MDAHandle, DAHandle and BAHandle are opaque handles the core stores
// but never interprets: metadata areas, data areas, and bootloader
// areas respectively (§3).
type (
	MDAHandle any
	DAHandle  any
	BAHandle  any
)

// Summary is the minimal per-device description produced by scanning a
// label: the VG name/id/status it claims membership in, plus the
// metadata witness fields used to detect divergence across a VG's
// devices. Seqno, MDASize and MDAChecksum are nil when the summary
// comes from the vg_read path rather than a label scan (§4.3).
type Summary struct {
	VGName       string
	VGID         VGID
	VGStatus     VGStatus
	CreationHost string
	LockType     string
	SystemID     string
	Seqno        *uint64
	MDASize      *uint64
	MDAChecksum  *uint32
}

// hasWitness reports whether the summary carries metadata witness data.
func (s Summary) hasWitness() bool {
	return s.Seqno != nil || s.MDASize != nil || s.MDAChecksum != nil
}

// PVInfo is the cache's record for one distinct device known to carry a
// PV label. A PVInfo belongs to exactly one VGInfo, possibly the orphan
// VGInfo for its format.
type PVInfo struct {
	Device   Device
	PVID     PVID
	Size     uint64 // device size, in bytes
	Labeller Labeller
	Label    any // opaque, owned by this PVInfo

	ExtVersion uint32
	ExtFlags   uint32

	// CacheLocked mirrors the owning VGInfo's lock-held state.
	CacheLocked bool

	mdas []MDAHandle
	das  []DAHandle
	bas  []BAHandle

	vginfo *VGInfo // back-reference; nil only during construction
}

// VGInfo returns the VGInfo this PVInfo currently belongs to.
func (i *PVInfo) VGInfo() *VGInfo {
	return i.vginfo
}

// ForEachMDA calls fn for every metadata area owned by this PVInfo,
// stopping early if fn returns false.
func (i *PVInfo) ForEachMDA(fn func(MDAHandle) bool) {
	for _, m := range i.mdas {
		if !fn(m) {
			return
		}
	}
}

// ForEachDA calls fn for every data area owned by this PVInfo.
func (i *PVInfo) ForEachDA(fn func(DAHandle) bool) {
	for _, d := range i.das {
		if !fn(d) {
			return
		}
	}
}

// ForEachBA calls fn for every bootloader area owned by this PVInfo.
func (i *PVInfo) ForEachBA(fn func(BAHandle) bool) {
	for _, b := range i.bas {
		if !fn(b) {
			return
		}
	}
}

// SetMDAs replaces the set of metadata areas attached to this PVInfo.
// Used by the format layer to attach/detach MDA lists to a format
// instance (§6).
func (i *PVInfo) SetMDAs(mdas []MDAHandle) { i.mdas = mdas }

// SetDAs replaces the set of data areas attached to this PVInfo.
func (i *PVInfo) SetDAs(das []DAHandle) { i.das = das }

// SetBAs replaces the set of bootloader areas attached to this PVInfo.
func (i *PVInfo) SetBAs(bas []BAHandle) { i.bas = bas }

// MDACount returns the number of metadata areas on this PV.
func (i *PVInfo) MDACount() int { return len(i.mdas) }

// SmallestMDASize returns the size of the smallest MDA handle that
// reports a Size() int64 method, or 0 if none do.
func (i *PVInfo) SmallestMDASize() int64 {
	var smallest int64 = -1
	for _, m := range i.mdas {
		sized, ok := m.(interface{ Size() int64 })
		if !ok {
			continue
		}
		if s := sized.Size(); smallest < 0 || s < smallest {
			smallest = s
		}
	}
	if smallest < 0 {
		return 0
	}
	return smallest
}

// IsOrphan reports whether this PVInfo currently belongs to an orphan VG.
func (i *PVInfo) IsOrphan() bool {
	return i.vginfo != nil && i.vginfo.IsOrphan
}

// OwnershipUncertain reports whether the PV's VG membership could not
// be confirmed: no VGInfo at all, or a scan_summary_mismatch on its VG.
func (i *PVInfo) OwnershipUncertain() bool {
	return i.vginfo == nil || i.vginfo.ScanSummaryMismatch
}

// VGInfo is the cache's record for one (name, id) pair. Two different
// VGs may share a name; the primary VGInfo is the one reachable
// directly from the name index, others chain off it via next (§3).
type VGInfo struct {
	Name   string
	ID     VGID
	Format string
	Status VGStatus

	LockType     string
	SystemID     string
	CreationHost string

	// Metadata witness, recorded from the first device that supplied
	// it; see reconcileWitness for reconciliation rules.
	HasWitness  bool
	Seqno       uint64
	MDASize     uint64
	MDAChecksum uint32

	// ScanSummaryMismatch is set when a later device disagrees with the
	// first witness in seqno or checksum (§4.3).
	ScanSummaryMismatch bool

	// IndependentMetadataLocation marks a VG whose metadata is sourced
	// from a file rather than device MDAs. The cache only stores it:
	// nothing in this package or in internal/scan reads it, and no
	// rescan is skipped because it is set.
	IndependentMetadataLocation bool

	// IsOrphan marks a sentinel VG that holds PVs with unknown or
	// absent VG membership. Orphan VGInfos are never destroyed even
	// when empty.
	IsOrphan bool

	// LockHeld mirrors the lock registry's state for this VG's name.
	LockHeld bool

	Infos []*PVInfo

	next *VGInfo // alias chain; nil at the tail
}

// Exported reports whether the VG's exported bit is set.
func (v *VGInfo) Exported() bool {
	return v.Status.Exported()
}

// PVIDs returns the PV ids of every PVInfo currently in this VG.
func (v *VGInfo) PVIDs() []PVID {
	ids := make([]PVID, 0, len(v.Infos))
	for _, i := range v.Infos {
		ids = append(ids, i.PVID)
	}
	return ids
}

// Devices returns the devices of every PVInfo currently in this VG.
func (v *VGInfo) Devices() []Device {
	devs := make([]Device, 0, len(v.Infos))
	for _, i := range v.Infos {
		devs = append(devs, i.Device)
	}
	return devs
}

func (v *VGInfo) String() string {
	return fmt.Sprintf("%s (%s)", v.Name, v.ID)
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import "context"

// BeginCriticalSection marks the start of a window during which an
// MDA-less PV's move to the orphan VG must be suppressed (§4.3).
func (c *Cache) BeginCriticalSection() { c.criticalSectionActive = true }

// EndCriticalSection ends the window started by BeginCriticalSection.
func (c *Cache) EndCriticalSection() { c.criticalSectionActive = false }

// UpdateVGNameAndID runs the update pipeline for info given summary,
// reporting whether the PVInfo is still usable afterwards (mirrors the
// external interface's update_vgname_and_id(info, summary) -> bool).
func (c *Cache) UpdateVGNameAndID(ctx context.Context, info *PVInfo, summary Summary) bool {
	return c.update(ctx, info, summary)
}

// UpdateVG merges a whole VGInfo into the live registry in one step
// and records the resulting state into the saved-VG buffer under the
// requested half, as the cluster-resume path does when it restores a
// VG it already holds a saved copy of rather than re-deriving one PV
// at a time through Add/UpdateVGNameAndID (§6 "update_vg"). It reports
// whether the merge succeeded.
func (c *Cache) UpdateVG(vg *VGInfo, precommitted bool) bool {
	if vg == nil || vg.ID.IsZero() {
		return false
	}

	if existing, ok := c.vgByID[vg.ID]; ok {
		existing.Status = vg.Status
		existing.CreationHost = vg.CreationHost
		existing.LockType = vg.LockType
		existing.SystemID = vg.SystemID
		existing.HasWitness = vg.HasWitness
		existing.Seqno = vg.Seqno
		existing.MDASize = vg.MDASize
		existing.MDAChecksum = vg.MDAChecksum
		vg = existing
	} else {
		c.insertVGInfo(vg)
	}

	if err := c.Save(vg, precommitted); err != nil {
		c.log.Error(err, "update_vg: save into saved-vg buffer failed", "vg", vg.Name)
		return false
	}
	c.refreshIndexMetrics()
	return true
}

// update is the update pipeline (§4.3): given a per-device VG summary,
// place or re-place info under the right VG, detecting seqno/checksum
// mismatches along the way. It always returns true; when the move is
// suppressed by the critical-section/MDA-less rule, info keeps its
// current VG membership.
func (c *Cache) update(ctx context.Context, info *PVInfo, summary Summary) bool {
	movingToOrphan := summary.VGName == ""
	mdaLess := info.MDACount() == 0
	inRealVG := info.vginfo != nil && !info.vginfo.IsOrphan

	if mdaLess && inRealVG && movingToOrphan && c.criticalSectionActive {
		// Suppressed: moving an MDA-less PV to the orphan VG mid
		// critical-section would lose track of a VG member we can't
		// yet re-read from disk (§4.3).
		return true
	}

	c.detach(info)

	target := c.findOrCreateTargetVG(summary)
	c.attach(target, info)

	// Propagate the lock registry's current state for target's name to
	// target and all its members (§4.3), so a VG created while its name
	// is already locked is marked as held.
	c.setLockHeld(target, c.IsLocked(target.Name))

	if !summary.hasWitness() {
		// Called from the vg_read path: no seqno/size/checksum to
		// reconcile.
		c.reconcileScalarFields(target, summary)
		return true
	}

	c.reconcileWitness(ctx, target, summary)
	c.reconcileScalarFields(target, summary)
	return true
}

// findOrCreateTargetVG locates the VGInfo named by summary (applying
// the chain-insertion policy from §4.1 when a new one must be
// created), or creates it if absent.
func (c *Cache) findOrCreateTargetVG(summary Summary) *VGInfo {
	if summary.VGName == "" {
		// Orphan VG target: one orphan VGInfo per empty-name slot; real
		// format-specific orphan VGs are created explicitly via
		// AddOrphanVGInfo and looked up by their sentinel name instead.
		if vg, ok := c.vgByName[""]; ok {
			return vg
		}
		vg := &VGInfo{IsOrphan: true}
		c.insertVGInfo(vg)
		return vg
	}

	if vg, ok := c.GetVGInfoByName(summary.VGName, summary.VGID); ok {
		return vg
	}

	vg := &VGInfo{
		Name:         summary.VGName,
		ID:           summary.VGID,
		Status:       summary.VGStatus,
		CreationHost: summary.CreationHost,
		LockType:     summary.LockType,
		SystemID:     summary.SystemID,
	}
	c.insertVGInfo(vg)
	return vg
}

// reconcileWitness applies the "first witness wins" rule: the first
// device to supply seqno/size/checksum for a VG sets its witness
// fields; later devices that disagree in seqno or checksum set
// ScanSummaryMismatch and are logged, but are never evicted — eviction
// would remove the opportunity to repair (§4.3).
func (c *Cache) reconcileWitness(ctx context.Context, vg *VGInfo, summary Summary) {
	seqno := derefU64(summary.Seqno)
	mdaSize := derefU64(summary.MDASize)
	checksum := derefU32(summary.MDAChecksum)

	if !vg.HasWitness {
		vg.HasWitness = true
		vg.Seqno = seqno
		vg.MDASize = mdaSize
		vg.MDAChecksum = checksum
		return
	}

	if vg.Seqno != seqno || vg.MDAChecksum != checksum {
		vg.ScanSummaryMismatch = true
		c.log.V(0).Info("scan summary mismatch", "vg", vg.Name, "vgid", vg.ID.String(),
			"witnessSeqno", vg.Seqno, "seqno", seqno, "witnessChecksum", vg.MDAChecksum, "checksum", checksum)
		c.recorder.Eventf("Warning", "ScanSummaryMismatch",
			"volume group %s: metadata witness mismatch between devices", vg.Name)
		if c.metrics != nil {
			c.metrics.scanMismatches.Inc()
		}
	}
}

// reconcileScalarFields updates exported-bit, creation host, lock
// type, and system id on vg, only rewriting a string field when it
// actually changes (§4.3).
func (c *Cache) reconcileScalarFields(vg *VGInfo, summary Summary) {
	vg.Status = summary.VGStatus
	if summary.CreationHost != "" && summary.CreationHost != vg.CreationHost {
		vg.CreationHost = summary.CreationHost
	}
	if summary.LockType != "" && summary.LockType != vg.LockType {
		vg.LockType = summary.LockType
	}
	if summary.SystemID != "" && summary.SystemID != vg.SystemID {
		vg.SystemID = summary.SystemID
	}
}

// LookupMDA fills summary's seqno/size/checksum from an existing
// VGInfo when the caller's size and checksum already match the
// witness on file, avoiding a redundant re-read (§6).
func (c *Cache) LookupMDA(summary *Summary) bool {
	vg, ok := c.GetVGInfoByName(summary.VGName, summary.VGID)
	if !ok || !vg.HasWitness {
		return false
	}
	if summary.MDASize == nil || summary.MDAChecksum == nil {
		return false
	}
	if *summary.MDASize != vg.MDASize || *summary.MDAChecksum != vg.MDAChecksum {
		return false
	}
	seqno := vg.Seqno
	summary.Seqno = &seqno
	return true
}

// ScanMismatch returns the witness-mismatch flag for the named VG
// (§6, §8 scenario 3).
func (c *Cache) ScanMismatch(name string, vgid VGID) bool {
	vg, ok := c.GetVGInfoByName(name, vgid)
	if !ok {
		return false
	}
	return vg.ScanSummaryMismatch
}

func derefU64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefU32(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p
}

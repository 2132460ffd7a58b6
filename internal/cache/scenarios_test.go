// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import (
	"context"
	"testing"
)

// Scenario 1: simple add.
func TestScenario_SimpleAdd(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	pv1 := newPVID(t)
	vg1 := newVGID(t)
	devA := dev("/dev/sdb")

	info, inserted := c.Add(ctx, lvm2, pv1, devA, "vg0", vg1, 0)
	if !inserted {
		t.Fatalf("Add: expected insertion")
	}

	got, ok := c.GetInfoByPVID(pv1, nil)
	if !ok || got.Device.Path() != devA.Path() || got.VGInfo().Name != "vg0" {
		t.Fatalf("GetInfoByPVID(pv1) = %+v, ok=%v, want device=%s vgname=vg0", got, ok, devA.Path())
	}
	_ = info

	names := c.VGNames()
	if len(names) != 1 || names[0] != "vg0" {
		t.Fatalf("VGNames() = %v, want [vg0]", names)
	}
}

// Scenario 2: duplicate detection and resolution.
func TestScenario_DuplicateDetectionAndResolve(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	pv1 := newPVID(t)
	vg1 := newVGID(t)
	devA := dev("/dev/sdb")
	devB := dev("/dev/sdc")

	c.Add(ctx, lvm2, pv1, devA, "vg0", vg1, 0)

	_, inserted := c.Add(ctx, lvm2, pv1, devB, "vg0", vg1, 0)
	if inserted {
		t.Fatalf("Add with a second device for the same pvid must report not-inserted")
	}
	if !c.FoundDuplicatePVs() {
		t.Fatalf("FoundDuplicatePVs() = false, want true")
	}

	dropped, kept, err := c.Resolve(ctx, DuplicateInput{
		Device: devA, PVID: pv1, SizeMatches: true,
	}, DuplicateInput{
		Device: devB, PVID: pv1, SizeMatches: true, Mounted: true,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(dropped) != 1 || dropped[0].Path() != devA.Path() {
		t.Fatalf("Resolve dropped = %v, want [devA]", dropped)
	}
	if len(kept) != 1 || kept[0].Path() != devB.Path() {
		t.Fatalf("Resolve kept = %v, want [devB]", kept)
	}

	// The caller removes devA and re-adds devB, as §4.4 describes.
	c.DelDev(devA)
	c.Add(ctx, lvm2, pv1, devB, "vg0", vg1, 0)

	got, ok := c.GetInfoByPVID(pv1, nil)
	if !ok || got.Device.Path() != devB.Path() {
		t.Fatalf("GetInfoByPVID(pv1).Device = %v, want devB", got)
	}
	if !c.DevIsUnchosenDuplicate(devA) {
		t.Fatalf("DevIsUnchosenDuplicate(devA) = false, want true")
	}
}

// Scenario 3: witness mismatch is flagged but never evicts either PV.
func TestScenario_WitnessMismatch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	vg1 := newVGID(t)
	seqno5 := uint64(5)
	seqno6 := uint64(6)
	checksum := uint32(0xAAAA)
	size := uint64(1 << 20)

	info1, _ := c.Add(ctx, lvm2, newPVID(t), dev("/dev/sdb"), "vg0", vg1, 0)
	c.UpdateVGNameAndID(ctx, info1, Summary{VGName: "vg0", VGID: vg1, Seqno: &seqno5, MDASize: &size, MDAChecksum: &checksum})

	info2, _ := c.Add(ctx, lvm2, newPVID(t), dev("/dev/sdc"), "vg0", vg1, 0)
	c.UpdateVGNameAndID(ctx, info2, Summary{VGName: "vg0", VGID: vg1, Seqno: &seqno6, MDASize: &size, MDAChecksum: &checksum})

	if !c.ScanMismatch("vg0", vg1) {
		t.Fatalf("ScanMismatch(vg0) = false, want true")
	}
	vg, ok := c.GetVGInfoByVGID(vg1)
	if !ok || len(vg.Infos) != 2 {
		t.Fatalf("both PVs must remain in vg0 after a witness mismatch, got %d", len(vg.Infos))
	}
}

// Scenario 4: lock ordering.
func TestScenario_LockOrdering(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Lock(ctx, "a"); err != nil {
		t.Fatalf("lock(a): %v", err)
	}
	if err := c.Lock(ctx, "b"); err != nil {
		t.Fatalf("lock(b): %v", err)
	}
	if err := c.Unlock(ctx, "a"); err != nil {
		t.Fatalf("unlock(a): %v", err)
	}
	if err := c.Unlock(ctx, "b"); err != nil {
		t.Fatalf("unlock(b): %v", err)
	}

	if err := c.Lock(ctx, "b"); err != nil {
		t.Fatalf("lock(b) second round: %v", err)
	}
	if err := c.Lock(ctx, "a"); err == nil {
		t.Fatalf("lock(a) after lock(b) should fail: a must precede b")
	}
}

// Scenario 5: saved-VG resume path with commit promotion.
func TestScenario_SavedVGResume(t *testing.T) {
	c := newTestCache(t)
	vgid := newVGID(t)

	vOld := &VGInfo{Name: "vg0", ID: vgid, Seqno: 1}
	vNew := &VGInfo{Name: "vg0", ID: vgid, Seqno: 2}

	if err := c.Save(vOld, false); err != nil {
		t.Fatalf("Save(old): %v", err)
	}
	if err := c.Save(vNew, true); err != nil {
		t.Fatalf("Save(new): %v", err)
	}
	if err := c.Commit("vg0"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	latest, ok := c.GetLatest(vgid)
	if !ok || latest.Seqno != vNew.Seqno {
		t.Fatalf("GetLatest = %+v, ok=%v, want seqno=%d", latest, ok, vNew.Seqno)
	}

	committed, ok := c.Get(vgid, false)
	if !ok || committed.Seqno != vNew.Seqno {
		t.Fatalf("Get(vgid,false) after commit = %+v, ok=%v, want the promoted new snapshot", committed, ok)
	}
}

// Scenario 6: orphan lock alias.
func TestScenario_OrphanLockAlias(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Lock(ctx, VGOrphans); err != nil {
		t.Fatalf("lock(VG_ORPHANS): %v", err)
	}
	if !c.IsLocked("#orphans_vg_xyz") {
		t.Fatalf(`IsLocked("#orphans_vg_xyz") = false, want true (orphan names alias to VG_ORPHANS)`)
	}
}

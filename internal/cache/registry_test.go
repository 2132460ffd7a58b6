// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import (
	"context"
	"testing"
)

func TestAdd_SimpleInsertion(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	pvid := newPVID(t)
	vgid := newVGID(t)
	devA := dev("/dev/sdb")

	info, inserted := c.Add(ctx, lvm2, pvid, devA, "vg0", vgid, 0)
	if !inserted {
		t.Fatalf("Add: expected insertion")
	}
	if info.Device.Path() != devA.Path() {
		t.Fatalf("info.Device = %v, want %v", info.Device, devA)
	}
	if info.VGInfo().Name != "vg0" {
		t.Fatalf("info.VGInfo().Name = %q, want vg0", info.VGInfo().Name)
	}

	got, ok := c.GetInfoByPVID(pvid, nil)
	if !ok || got != info {
		t.Fatalf("GetInfoByPVID did not return the inserted info")
	}

	names := c.VGNames()
	if len(names) != 1 || names[0] != "vg0" {
		t.Fatalf("VGNames() = %v, want [vg0]", names)
	}
}

func TestGetInfoByPVID_DeviceMismatchIsNotFound(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	pvid := newPVID(t)
	vgid := newVGID(t)
	devA := dev("/dev/sdb")

	c.Add(ctx, lvm2, pvid, devA, "vg0", vgid, 0)

	_, ok := c.GetInfoByPVID(pvid, dev("/dev/sdz"))
	if ok {
		t.Fatalf("GetInfoByPVID with mismatched device should report not found")
	}
}

func TestVGIDFromVGName_AmbiguousWhenChained(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	vgidA := newVGID(t)
	vgidB := newVGID(t)

	// Two VGs sharing a name: neither has a creation host, so the
	// second loses chain-insertion to the pre-existing first and chains
	// off it.
	c.Add(ctx, lvm2, newPVID(t), dev("/dev/sdb"), "dup", vgidA, 0)
	c.Add(ctx, lvm2, newPVID(t), dev("/dev/sdc"), "dup", vgidB, 0)

	_, err := c.VGIDFromVGName("dup")
	if err != ErrAmbiguousVGName {
		t.Fatalf("VGIDFromVGName error = %v, want ErrAmbiguousVGName", err)
	}

	vgA, ok := c.GetVGInfoByName("dup", vgidA)
	if !ok || vgA.ID != vgidA {
		t.Fatalf("GetVGInfoByName(dup, vgidA) failed to retrieve the aliased VG")
	}
	vgB, ok := c.GetVGInfoByName("dup", vgidB)
	if !ok || vgB.ID != vgidB {
		t.Fatalf("GetVGInfoByName(dup, vgidB) failed to retrieve the aliased VG")
	}
}

func TestInsertVGInfo_ReorderPreservesDisplacedChain(t *testing.T) {
	c := newTestCache(t)

	origHostname := localHostname
	localHostname = func() string { return "node-a" }
	t.Cleanup(func() { localHostname = origHostname })

	vgidA := newVGID(t)
	vgidB := newVGID(t)
	vgidC := newVGID(t)

	vgA := &VGInfo{Name: "dup", ID: vgidA}
	vgB := &VGInfo{Name: "dup", ID: vgidB}
	vgC := &VGInfo{Name: "dup", ID: vgidC, CreationHost: "node-a"}

	// vgA is the primary; vgB, lacking a creation host, chains off it
	// (rule 4: pre-existing wins). vgC's local creation host then beats
	// both (rule 2) and must displace vgA as head without dropping vgB.
	c.insertVGInfo(vgA)
	c.insertVGInfo(vgB)
	c.insertVGInfo(vgC)

	head, ok := c.vgByName["dup"]
	if !ok || head != vgC {
		t.Fatalf("head of chain = %v, want vgC (local creation host wins)", head)
	}

	var chain []*VGInfo
	for vg := head; vg != nil; vg = vg.next {
		chain = append(chain, vg)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3; vgB must remain reachable after the reorder: %v", len(chain), chain)
	}
	seen := make(map[VGID]bool)
	for _, vg := range chain {
		seen[vg.ID] = true
	}
	for _, id := range []VGID{vgidA, vgidB, vgidC} {
		if !seen[id] {
			t.Fatalf("chain missing vgid %s after reorder", id.String())
		}
	}
}

func TestDetach_OrphanVGInfoNeverFreed(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	pvid := newPVID(t)
	info, inserted := c.Add(ctx, lvm2, pvid, dev("/dev/sdb"), "", VGID{}, 0)
	if !inserted {
		t.Fatalf("Add: expected insertion")
	}
	orphan := info.VGInfo()
	if !orphan.IsOrphan {
		t.Fatalf("expected PV with empty vgname to land in an orphan VGInfo")
	}

	c.Del(info)

	if _, ok := c.GetVGInfoByVGID(orphan.ID); !ok {
		t.Fatalf("orphan VGInfo must survive detach of its last member")
	}
}

func TestUpdateVG_MergesIntoLiveRegistryAndSavedBuffer(t *testing.T) {
	c := newTestCache(t)
	vgid := newVGID(t)

	if !c.UpdateVG(&VGInfo{Name: "vg0", ID: vgid, Seqno: 4}, false) {
		t.Fatalf("UpdateVG(new vg) = false, want true")
	}

	vg, ok := c.GetVGInfoByVGID(vgid)
	if !ok || vg.Seqno != 4 {
		t.Fatalf("GetVGInfoByVGID after UpdateVG = %+v, ok=%v, want seqno=4", vg, ok)
	}

	saved, ok := c.Get(vgid, false)
	if !ok || saved.Seqno != 4 {
		t.Fatalf("Get(vgid, false) after UpdateVG = %+v, ok=%v, want the merged seqno=4 snapshot", saved, ok)
	}

	if !c.UpdateVG(&VGInfo{Name: "vg0", ID: vgid, Seqno: 5}, false) {
		t.Fatalf("UpdateVG(existing vg) = false, want true")
	}
	if vg.Seqno != 5 {
		t.Fatalf("existing VGInfo.Seqno after second UpdateVG = %d, want 5 (merge in place)", vg.Seqno)
	}
}

func TestUpdateVG_RejectsZeroID(t *testing.T) {
	c := newTestCache(t)
	if c.UpdateVG(&VGInfo{Name: "vg0"}, false) {
		t.Fatalf("UpdateVG with a zero VGID should report false")
	}
}

func TestSeedFromMetadataDaemon_PopulatesRegistry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	pvid := newPVID(t)
	vgid := newVGID(t)
	seqno := uint64(7)

	err := c.SeedFromMetadataDaemon(ctx, []SeedEntry{
		{Labeller: lvm2, PVID: pvid, Device: dev("/dev/sdb"), VGName: "vg0", VGID: vgid, Seqno: &seqno},
	})
	if err != nil {
		t.Fatalf("SeedFromMetadataDaemon: %v", err)
	}

	info, ok := c.GetInfoByPVID(pvid, nil)
	if !ok || info.VGInfo().Name != "vg0" {
		t.Fatalf("GetInfoByPVID after seeding = %+v, ok=%v, want vg0", info, ok)
	}
	vg, ok := c.GetVGInfoByVGID(vgid)
	if !ok || vg.Seqno != seqno {
		t.Fatalf("GetVGInfoByVGID after seeding = %+v, ok=%v, want seqno=%d", vg, ok, seqno)
	}
}

func TestAddOrphanVGInfo_DistinctFormatsGetDistinctIDs(t *testing.T) {
	c := newTestCache(t)

	lvm1 := c.AddOrphanVGInfo("#orphans_lvm1", "lvm1")
	lvm2 := c.AddOrphanVGInfo("#orphans_lvm2", "lvm2")

	if lvm1.ID.IsZero() || lvm2.ID.IsZero() {
		t.Fatalf("orphan VGInfos must get a non-zero id: lvm1=%v lvm2=%v", lvm1.ID, lvm2.ID)
	}
	if lvm1.ID == lvm2.ID {
		t.Fatalf("two distinct orphan formats must not share a vgid: %v", lvm1.ID)
	}

	got1, ok := c.GetVGInfoByVGID(lvm1.ID)
	if !ok || got1 != lvm1 {
		t.Fatalf("GetVGInfoByVGID(lvm1.ID) = %v, ok=%v, want lvm1", got1, ok)
	}
	got2, ok := c.GetVGInfoByVGID(lvm2.ID)
	if !ok || got2 != lvm2 {
		t.Fatalf("GetVGInfoByVGID(lvm2.ID) = %v, ok=%v, want lvm2", got2, ok)
	}

	// Calling again with the same name returns the same VGInfo rather
	// than minting a new one.
	if again := c.AddOrphanVGInfo("#orphans_lvm1", "lvm1"); again != lvm1 {
		t.Fatalf("AddOrphanVGInfo on an existing name should return the existing VGInfo")
	}
}

func TestDestroy_RetainOrphans(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Add(ctx, lvm2, newPVID(t), dev("/dev/sdb"), "vg0", newVGID(t), 0)
	c.Add(ctx, lvm2, newPVID(t), dev("/dev/sdc"), "", VGID{}, 0)

	c.Destroy(ctx, true, true)

	if len(c.VGNames()) != 1 {
		t.Fatalf("VGNames() after retained-orphan destroy = %v, want exactly the orphan VG", c.VGNames())
	}
	if _, ok := c.vgByName["vg0"]; ok {
		t.Fatalf("real VG vg0 should not survive destroy without retainOrphans for it")
	}
}

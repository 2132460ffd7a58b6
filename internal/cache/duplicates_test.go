// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import (
	"context"
	"testing"
)

func TestResolve_PriorityLadder(t *testing.T) {
	tests := []struct {
		name string
		a, b DuplicateInput
		want string // path of the expected winner
	}{
		{
			name: "sticky unpreference loses outright",
			a:    DuplicateInput{Device: dev("/dev/a"), StickyUnprefer: true, SizeMatches: true, Mounted: true},
			b:    DuplicateInput{Device: dev("/dev/b")},
			want: "/dev/b",
		},
		{
			name: "size match wins over mismatch",
			a:    DuplicateInput{Device: dev("/dev/a"), SizeMatches: false},
			b:    DuplicateInput{Device: dev("/dev/b"), SizeMatches: true},
			want: "/dev/b",
		},
		{
			name: "mounted wins when sizes tie",
			a:    DuplicateInput{Device: dev("/dev/a"), SizeMatches: true, Mounted: false},
			b:    DuplicateInput{Device: dev("/dev/b"), SizeMatches: true, Mounted: true},
			want: "/dev/b",
		},
		{
			name: "first seen wins with no other signal",
			a:    DuplicateInput{Device: dev("/dev/a")},
			b:    DuplicateInput{Device: dev("/dev/b")},
			want: "/dev/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t)
			ctx := context.Background()
			pvid := newPVID(t)
			tt.a.PVID = pvid
			tt.b.PVID = pvid

			c.Add(ctx, lvm2, pvid, tt.a.Device, "vg0", newVGID(t), 0)

			_, kept, err := c.Resolve(ctx, tt.a, tt.b)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if len(kept) != 1 || kept[0].Path() != tt.want {
				t.Fatalf("Resolve kept = %v, want [%s]", kept, tt.want)
			}
		})
	}
}

func TestResolve_SingletonGroupStillComparesAgainstCurrent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	pvid := newPVID(t)
	devA := dev("/dev/a") // what Add already left in the registry
	devB := dev("/dev/b") // the lone found-duplicate candidate

	c.Add(ctx, lvm2, pvid, devA, "vg0", newVGID(t), 0)

	// A group of exactly one candidate: devB never appears alongside a
	// sibling in the cmds slice, but it must still be ranked against
	// devA, the device the registry already holds for pvid, and can win.
	dropped, kept, err := c.Resolve(ctx,
		DuplicateInput{Device: devB, PVID: pvid, SizeMatches: true, Mounted: true},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(kept) != 1 || kept[0].Path() != devB.Path() {
		t.Fatalf("Resolve kept = %v, want [devB] (devB beats the unevidenced current device)", kept)
	}
	if len(dropped) != 1 || dropped[0].Path() != devA.Path() {
		t.Fatalf("Resolve dropped = %v, want [devA]", dropped)
	}
	if !c.DevIsUnchosenDuplicate(devA) {
		t.Fatalf("the displaced current device must be recorded as an unused duplicate")
	}
}

func TestResolve_SingletonGroupCanKeepCurrent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	pvid := newPVID(t)
	devA := dev("/dev/a")
	devB := dev("/dev/b")

	c.Add(ctx, lvm2, pvid, devA, "vg0", newVGID(t), 0)

	dropped, kept, err := c.Resolve(ctx,
		DuplicateInput{Device: devB, PVID: pvid},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(kept) != 1 || kept[0].Path() != devA.Path() {
		t.Fatalf("Resolve kept = %v, want [devA] (first-seen wins with no other signal)", kept)
	}
	if len(dropped) != 1 || dropped[0].Path() != devB.Path() {
		t.Fatalf("Resolve dropped = %v, want [devB]", dropped)
	}
}

func TestFoundDuplicateCandidates_ExposesRecordedConflicts(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	pvid := newPVID(t)
	devA := dev("/dev/a")
	devB := dev("/dev/b")

	c.Add(ctx, lvm2, pvid, devA, "vg0", newVGID(t), 0)
	c.Add(ctx, lvm2, pvid, devB, "vg0", newVGID(t), 0)

	candidates := c.FoundDuplicateCandidates()
	if len(candidates) != 1 || candidates[0].PVID != pvid || candidates[0].Device.Path() != devB.Path() {
		t.Fatalf("FoundDuplicateCandidates() = %+v, want [{%s, %s}]", candidates, pvid.String(), devB.Path())
	}
}

func TestResolve_PostFiltersMDComponents(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	pvid := newPVID(t)
	devA := dev("/dev/a")
	devB := dev("/dev/md-member")

	c.Add(ctx, lvm2, pvid, devA, "vg0", newVGID(t), 0)

	_, _, err := c.Resolve(ctx,
		DuplicateInput{Device: devA, PVID: pvid, SizeMatches: true},
		DuplicateInput{Device: devB, PVID: pvid, MDMajor: true},
	)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if c.DevIsUnchosenDuplicate(devB) {
		t.Fatalf("an MD-component loser must be post-filtered out of unused duplicates, not exposed")
	}
}

func TestVGHasDuplicatePVs(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	pvid := newPVID(t)
	vgid := newVGID(t)
	devA := dev("/dev/a")
	devB := dev("/dev/b")

	info, _ := c.Add(ctx, lvm2, pvid, devA, "vg0", vgid, 0)
	vg := info.VGInfo()

	if c.VGHasDuplicatePVs(vg) {
		t.Fatalf("VGHasDuplicatePVs should be false before any duplicate is recorded")
	}

	c.Resolve(ctx,
		DuplicateInput{Device: devA, PVID: pvid, SizeMatches: true},
		DuplicateInput{Device: devB, PVID: pvid, SizeMatches: true, Mounted: true},
	)

	if !c.VGHasDuplicatePVs(vg) {
		t.Fatalf("VGHasDuplicatePVs should be true once one of vg's PVs has an unused duplicate")
	}
}

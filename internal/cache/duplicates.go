// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import "context"

// duplicateCandidate records one device that Add saw claiming a PV id
// already attached to a different device. Resolve groups these by
// pvid and applies the priority ladder to pick a winner (§4.4).
type duplicateCandidate struct {
	pvid   PVID
	device Device
}

// unusedDuplicate is a device that lost the priority ladder against
// another device for the same PV id. It stays in the cache's
// unused-duplicates list (and is carried across a destroy/init cycle)
// so that later passes make the same choice without re-deriving it
// (§4.1, §4.4).
type unusedDuplicate struct {
	pvid      PVID
	device    Device
	preferred Device
	reason    string
	mdMajor   bool
}

// DuplicateInput is the per-candidate evidence Resolve needs to apply
// the priority ladder: the size the device reports, whether it is
// currently mounted, whether it is backed by device-mapper, and which
// kernel subsystem (if any) it belongs to (§4.4).
type DuplicateInput struct {
	Device         Device
	PVID           PVID
	SizeMatches    bool
	Mounted        bool
	DeviceMapper   bool
	DMMajorIsStale bool
	Subsystem      string
	StickyUnprefer bool

	// MDMajor marks a device as a software-RAID (MD) component; such
	// devices are dropped from the unused-duplicates list entirely
	// after resolution, win or lose, because they should never be
	// exposed as a standalone PV candidate (§4.4 "post-filter").
	MDMajor bool
}

// Resolve groups cmds by PV id and, for each group, applies the
// deterministic priority ladder (§4.4); a group with a single
// candidate is ranked against the device the registry currently holds
// for that PV id:
//
//  1. A device already marked sticky-unpreferred loses outright.
//  2. A device whose reported size matches the PV's recorded size wins
//     over one that doesn't.
//  3. A device carrying a mounted filesystem wins over one that
//     doesn't.
//  4. Among device-mapper devices, the one with the current (not
//     stale) dm major wins.
//  5. A device that belongs to a kernel subsystem wins over one that
//     belongs to none (two devices that both belong to one tie).
//  6. Otherwise the first-seen device wins.
//
// There is no separate in-use-for-LV rung: DuplicateInput carries no
// LV-usage evidence, so an LV-backing device is only preferred through
// the size and mount rungs.
//
// It returns the losers (dropped) and the winners (kept). A winner may
// be a candidate Add rejected, which is then not yet in the registry.
func (c *Cache) Resolve(ctx context.Context, cmds ...DuplicateInput) (dropped, kept []Device, err error) {
	_, span := c.tracer.Start(ctx, "cache.Resolve")
	defer span.End()

	groups := make(map[PVID][]DuplicateInput)
	order := make([]PVID, 0)
	for _, cmd := range cmds {
		if _, ok := groups[cmd.PVID]; !ok {
			order = append(order, cmd.PVID)
		}
		groups[cmd.PVID] = append(groups[cmd.PVID], cmd)
	}

	for _, pvid := range order {
		group := groups[pvid]
		if len(group) < 2 {
			if len(group) == 1 {
				candidate := group[0]
				kept = append(kept, c.resolveSingleton(pvid, candidate, &dropped))
			}
			continue
		}

		winner := group[0]
		for _, candidate := range group[1:] {
			if preferOver(candidate, winner) {
				winner = candidate
			}
		}

		for _, candidate := range group {
			if candidate.Device.Path() == winner.Device.Path() {
				kept = append(kept, candidate.Device)
				continue
			}
			dropped = append(dropped, candidate.Device)
			u := unusedDuplicate{
				pvid:      pvid,
				device:    candidate.Device,
				preferred: winner.Device,
				reason:    reasonFor(candidate, winner),
				mdMajor:   candidate.MDMajor,
			}
			c.unusedDuplicates = append(c.unusedDuplicates, u)
			c.log.V(0).Info("duplicate pv resolved", "pvid", pvid.String(),
				"preferred", winner.Device.Path(), "unused", candidate.Device.Path(), "reason", u.reason)
			c.recorder.Eventf("Warning", "DuplicatePV",
				"pv %s: preferring %s over %s (%s)", pvid.String(), winner.Device.Path(), candidate.Device.Path(), u.reason)
		}
	}

	// Post-filter: a device that is itself a software-RAID (MD)
	// component is never exposed as a standalone PV candidate, so it is
	// dropped from the unused-duplicates list regardless of how it
	// fared in the ladder (§4.4).
	filtered := c.unusedDuplicates[:0:0]
	for _, u := range c.unusedDuplicates {
		if u.mdMajor {
			continue
		}
		filtered = append(filtered, u)
	}
	c.unusedDuplicates = filtered

	c.foundDuplicates = nil
	c.refreshIndexMetrics()
	return dropped, kept, nil
}

// resolveSingleton runs the priority ladder for a PV id that Resolve
// saw exactly one found-duplicate candidate for, comparing it against
// whatever device the registry currently holds for that PV id: a
// group of one candidate still runs the ladder, since the candidate
// may in fact be preferred over what Add left in place (§4.4). It
// returns the device that should remain kept, appending the other to
// dropped and recording it as an unused duplicate when the two differ.
func (c *Cache) resolveSingleton(pvid PVID, candidate DuplicateInput, dropped *[]Device) Device {
	current, ok := c.pvByID[pvid]
	if !ok || current.Device.Path() == candidate.Device.Path() {
		return candidate.Device
	}

	currentInput := DuplicateInput{
		Device:         current.Device,
		PVID:           pvid,
		StickyUnprefer: c.DevIsUnchosenDuplicate(current.Device),
	}

	winner, loser := currentInput, candidate
	if preferOver(candidate, currentInput) {
		winner, loser = candidate, currentInput
	}

	*dropped = append(*dropped, loser.Device)
	u := unusedDuplicate{
		pvid:      pvid,
		device:    loser.Device,
		preferred: winner.Device,
		reason:    reasonFor(loser, winner),
		mdMajor:   loser.MDMajor,
	}
	c.unusedDuplicates = append(c.unusedDuplicates, u)
	c.log.V(0).Info("duplicate pv resolved", "pvid", pvid.String(),
		"preferred", winner.Device.Path(), "unused", loser.Device.Path(), "reason", u.reason)
	c.recorder.Eventf("Warning", "DuplicatePV",
		"pv %s: preferring %s over %s (%s)", pvid.String(), winner.Device.Path(), loser.Device.Path(), u.reason)

	return winner.Device
}

// preferOver reports whether candidate should replace current as the
// preferred device for a PV id, applying the priority ladder in order.
func preferOver(candidate, current DuplicateInput) bool {
	if current.StickyUnprefer != candidate.StickyUnprefer {
		return current.StickyUnprefer
	}
	// in-use-for-LV is modeled by mounted-filesystem plus size-match in
	// this cache: an LV-backing device is always both sized correctly
	// and mounted, so rungs 2 and 3 collapse for a library that does not
	// itself track LV segments.
	if current.SizeMatches != candidate.SizeMatches {
		return candidate.SizeMatches
	}
	if current.Mounted != candidate.Mounted {
		return candidate.Mounted
	}
	if current.DeviceMapper && candidate.DeviceMapper && current.DMMajorIsStale != candidate.DMMajorIsStale {
		return current.DMMajorIsStale
	}
	if current.Subsystem != candidate.Subsystem {
		return candidate.Subsystem != "" && current.Subsystem == ""
	}
	return false
}

func reasonFor(candidate, winner DuplicateInput) string {
	switch {
	case candidate.StickyUnprefer:
		return "sticky unpreferred"
	case winner.SizeMatches && !candidate.SizeMatches:
		return "size mismatch"
	case winner.Mounted && !candidate.Mounted:
		return "not mounted"
	case candidate.DeviceMapper && candidate.DMMajorIsStale:
		return "device-mapper major"
	case winner.Subsystem != "" && candidate.Subsystem == "":
		return "subsystem membership"
	default:
		return "first seen"
	}
}

// VGHasDuplicatePVs reports whether any PV currently in vg is shadowed
// by an unused duplicate.
func (c *Cache) VGHasDuplicatePVs(vg *VGInfo) bool {
	for _, info := range vg.Infos {
		if c.PVIDInUnchosenDuplicates(info.PVID) {
			return true
		}
	}
	return false
}

// FoundDuplicatePVs reports whether any duplicate PV ids were recorded
// since the last Resolve (or since init).
func (c *Cache) FoundDuplicatePVs() bool {
	return len(c.foundDuplicates) > 0
}

// DuplicateCandidate is one device Add saw claiming a PV id already
// attached to a different device, as exposed to callers (e.g.
// internal/scan.Scan) that must build DuplicateInput evidence and
// drive Resolve themselves after a scan pass (§4.4).
type DuplicateCandidate struct {
	PVID   PVID
	Device Device
}

// FoundDuplicateCandidates returns the duplicate candidates recorded
// since the last Resolve (or since init).
func (c *Cache) FoundDuplicateCandidates() []DuplicateCandidate {
	out := make([]DuplicateCandidate, len(c.foundDuplicates))
	for i, d := range c.foundDuplicates {
		out[i] = DuplicateCandidate{PVID: d.pvid, Device: d.device}
	}
	return out
}

// UnusedDuplicateDevices enumerates the devices currently parked as
// unused duplicates.
func (c *Cache) UnusedDuplicateDevices() []Device {
	devs := make([]Device, 0, len(c.unusedDuplicates))
	for _, u := range c.unusedDuplicates {
		devs = append(devs, u.device)
	}
	return devs
}

// DevIsUnchosenDuplicate reports whether device currently sits in the
// unused-duplicates list.
func (c *Cache) DevIsUnchosenDuplicate(device Device) bool {
	for _, u := range c.unusedDuplicates {
		if u.device.Path() == device.Path() {
			return true
		}
	}
	return false
}

// PVIDInUnchosenDuplicates reports whether pvid has any device parked
// in the unused-duplicates list.
func (c *Cache) PVIDInUnchosenDuplicates(pvid PVID) bool {
	for _, u := range c.unusedDuplicates {
		if u.pvid == pvid {
			return true
		}
	}
	return false
}

// RemoveUnchosenDuplicate drops device from the unused-duplicates
// list, e.g. once its underlying device has disappeared from the
// system (§4.4).
func (c *Cache) RemoveUnchosenDuplicate(device Device) {
	filtered := c.unusedDuplicates[:0:0]
	for _, u := range c.unusedDuplicates {
		if u.device.Path() == device.Path() {
			continue
		}
		filtered = append(filtered, u)
	}
	c.unusedDuplicates = filtered
	c.refreshIndexMetrics()
}

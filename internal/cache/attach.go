// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

// attach links info into vginfo's member list and sets info's
// back-reference (§4.2).
func (c *Cache) attach(vginfo *VGInfo, info *PVInfo) {
	vginfo.Infos = append(vginfo.Infos, info)
	info.vginfo = vginfo
	info.CacheLocked = vginfo.LockHeld
}

// detach unlinks info from its current VGInfo and clears its
// back-reference. If the VGInfo has no remaining members and is not
// an orphan, it is freed: freeing rewires the name chain (promoting
// the successor when removing the primary, splicing out a mid-chain
// alias otherwise), removes the vgid index entry if it still points
// here, and clears the VGInfo's owned strings (§4.2).
func (c *Cache) detach(info *PVInfo) {
	vg := info.vginfo
	if vg == nil {
		return
	}
	for idx, member := range vg.Infos {
		if member == info {
			vg.Infos = append(vg.Infos[:idx], vg.Infos[idx+1:]...)
			break
		}
	}
	info.vginfo = nil
	info.CacheLocked = false

	if len(vg.Infos) > 0 || vg.IsOrphan {
		return
	}
	c.freeVGInfo(vg)
}

// freeVGInfo removes an empty, non-orphan VGInfo from every index it
// participates in (§4.2).
func (c *Cache) freeVGInfo(vg *VGInfo) {
	head, ok := c.vgByName[vg.Name]
	switch {
	case !ok:
		// Already unlinked; nothing to do.
	case head == vg:
		if vg.next != nil {
			c.vgByName[vg.Name] = vg.next
		} else {
			delete(c.vgByName, vg.Name)
		}
	default:
		prev := head
		for prev != nil && prev.next != vg {
			prev = prev.next
		}
		if prev != nil {
			prev.next = vg.next
		}
	}
	vg.next = nil

	if existing, ok := c.vgByID[vg.ID]; ok && existing == vg {
		delete(c.vgByID, vg.ID)
	}

	for idx, v := range c.vgOrder {
		if v == vg {
			c.vgOrder = append(c.vgOrder[:idx], c.vgOrder[idx+1:]...)
			break
		}
	}

	vg.Name = ""
	vg.CreationHost = ""
	vg.LockType = ""
	vg.SystemID = ""
}

// insertVGInfo places a freshly created VGInfo into every index,
// applying the chain-insertion policy (§4.1) if another VGInfo already
// occupies that name. Orphan VGInfos are always appended at the tail
// of the global VG list; real VGs at the head.
func (c *Cache) insertVGInfo(vg *VGInfo) {
	c.vgByID[vg.ID] = vg

	if existing, ok := c.vgByName[vg.Name]; ok {
		winner, loser := chainInsertionWinner(existing, vg)
		c.vgByName[vg.Name] = winner

		// loser may already head its own chain (it could be the previous
		// primary, displaced by a new winner); preserve that chain by
		// splicing it in after loser rather than discarding it.
		displacedChain := loser.next
		loser.next = nil

		tail := winner
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = loser

		tail = loser
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = displacedChain
	} else {
		c.vgByName[vg.Name] = vg
	}

	if vg.IsOrphan {
		c.vgOrder = append(c.vgOrder, vg)
	} else {
		c.vgOrder = append([]*VGInfo{vg}, c.vgOrder...)
	}
}

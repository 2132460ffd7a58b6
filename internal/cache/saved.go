// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// vgSnapshot is the serializable projection of a VGInfo used by the
// saved-VG buffer's deep-copy mechanism: encoding and decoding a
// snapshot is cheaper to reason about than hand-writing a recursive
// copy of a structure full of back-references (§4.6, §9).
type vgSnapshot struct {
	Name         string
	ID           VGID
	Format       string
	Status       VGStatus
	LockType     string
	SystemID     string
	CreationHost string
	HasWitness   bool
	Seqno        uint64
	MDASize      uint64
	MDAChecksum  uint32
	PVIDs        []PVID
}

// MetadataStore turns a VGInfo snapshot into an opaque byte form and
// back, standing in for the on-disk text-metadata round trip the
// original cache uses to deep-copy a VG into its saved buffer — the
// "serialization round-trip contract" of §4.6/§6.
type MetadataStore interface {
	Serialize(vg *VGInfo) ([]byte, error)
	Deserialize(data []byte) (*VGInfo, error)
}

// gobMetadataStore is the default MetadataStore, using gob encoding of
// a vgSnapshot in place of the original's LVM text-metadata format:
// the cache has no on-disk format of its own, so the serialize/parse
// round trip is modeled rather than reproduced byte-for-byte (§4.6).
type gobMetadataStore struct{}

func (gobMetadataStore) Serialize(vg *VGInfo) ([]byte, error) {
	snap := vgSnapshot{
		Name:         vg.Name,
		ID:           vg.ID,
		Format:       vg.Format,
		Status:       vg.Status,
		LockType:     vg.LockType,
		SystemID:     vg.SystemID,
		CreationHost: vg.CreationHost,
		HasWitness:   vg.HasWitness,
		Seqno:        vg.Seqno,
		MDASize:      vg.MDASize,
		MDAChecksum:  vg.MDAChecksum,
		PVIDs:        vg.PVIDs(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("serialize vg %s: %w", vg.Name, err)
	}
	return buf.Bytes(), nil
}

func (gobMetadataStore) Deserialize(data []byte) (*VGInfo, error) {
	var snap vgSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("deserialize vg: %w", err)
	}
	return &VGInfo{
		Name:         snap.Name,
		ID:           snap.ID,
		Format:       snap.Format,
		Status:       snap.Status,
		LockType:     snap.LockType,
		SystemID:     snap.SystemID,
		CreationHost: snap.CreationHost,
		HasWitness:   snap.HasWitness,
		Seqno:        snap.Seqno,
		MDASize:      snap.MDASize,
		MDAChecksum:  snap.MDAChecksum,
	}, nil
}

// retainedSnapshot is one stored half (old or new) of a savedSlot: the
// serialized form plus the seqno it was saved at, so a later save can
// no-op on a repeat and Get can tell which half is more current.
type retainedSnapshot struct {
	data  []byte
	seqno uint64
}

// savedSlot holds the precommitted ("new") and committed ("old")
// snapshots for one VG id, the commit flag, and the deferred-free
// list of snapshots displaced from this slot by a later save or drop
// (§4.6): callers that still hold a reference to a displaced snapshot
// remain safe until the buffer is next touched.
type savedSlot struct {
	name string // VG name, kept alongside the vgid key so Commit/Drop can address by name

	old *retainedSnapshot
	new *retainedSnapshot

	committed bool

	deferredFree []*retainedSnapshot
}

func (c *Cache) slotFor(vgid VGID, name string) *savedSlot {
	slot, ok := c.saved[vgid]
	if !ok {
		slot = &savedSlot{name: name}
		c.saved[vgid] = slot
	}
	if name != "" {
		slot.name = name
	}
	return slot
}

// Save stores an independent deep copy of vg into the precommitted
// ("new") or committed ("old") half of its slot. Saving the same
// seqno twice into the same half is a no-op: no allocation, no
// invalidation (§8). Otherwise the half's previous contents, if any,
// move onto the deferred-free list before the new copy is stored.
func (c *Cache) Save(vg *VGInfo, precommitted bool) error {
	slot := c.slotFor(vg.ID, vg.Name)

	half := &slot.old
	if precommitted {
		half = &slot.new
	}
	if *half != nil && (*half).seqno == vg.Seqno {
		return nil
	}

	data, err := c.metadataStore.Serialize(vg)
	if err != nil {
		return err
	}
	if *half != nil {
		slot.deferredFree = append(slot.deferredFree, *half)
	}
	*half = &retainedSnapshot{data: data, seqno: vg.Seqno}
	return nil
}

// Get returns a deep copy of the requested half of vgid's saved slot.
// Requesting the committed half after a Commit returns the
// precommitted snapshot instead, per the promotion rule: commit only
// sets a flag, it never moves data (§4.6, §8 scenario 5). Requesting
// the precommitted half eagerly invalidates a stale committed half
// whose seqno has fallen behind it.
func (c *Cache) Get(vgid VGID, precommitted bool) (*VGInfo, bool) {
	slot, ok := c.saved[vgid]
	if !ok {
		return nil, false
	}

	if precommitted {
		if slot.new != nil {
			if slot.old != nil && slot.old.seqno < slot.new.seqno {
				slot.deferredFree = append(slot.deferredFree, slot.old)
				slot.old = nil
			}
			return c.deserializeLogged(vgid, slot.new.data)
		}
		if slot.old != nil {
			c.log.V(0).Info("saved vg: precommitted half missing, committed half present", "vgid", vgid.String())
		}
		return nil, false
	}

	if slot.committed && slot.new != nil {
		if slot.old != nil && slot.old.seqno < slot.new.seqno {
			slot.deferredFree = append(slot.deferredFree, slot.old)
			slot.old = nil
		}
		return c.deserializeLogged(vgid, slot.new.data)
	}
	if slot.old != nil {
		return c.deserializeLogged(vgid, slot.old.data)
	}
	if slot.new != nil {
		c.log.V(0).Info("saved vg: committed half missing, precommitted half present", "vgid", vgid.String())
	}
	return nil, false
}

// GetLatest returns the promoted view of vgid's slot: the
// precommitted snapshot if the slot has been committed, otherwise the
// committed snapshot (§4.6, §8 scenario 5).
func (c *Cache) GetLatest(vgid VGID) (*VGInfo, bool) {
	return c.Get(vgid, false)
}

func (c *Cache) deserializeLogged(vgid VGID, data []byte) (*VGInfo, bool) {
	vg, err := c.metadataStore.Deserialize(data)
	if err != nil {
		c.log.Error(err, "saved vg deserialize failed", "vgid", vgid.String())
		return nil, false
	}
	return vg, true
}

// Commit sets the committed flag for the slot belonging to vgname; no
// snapshot is moved (§4.6). Committing a name with no saved slot is a
// no-op.
func (c *Cache) Commit(vgname string) error {
	for _, slot := range c.saved {
		if slot.name == vgname {
			slot.committed = true
		}
	}
	return nil
}

// Drop frees the saved state for vgname. With dropPrecommitted=true
// only the precommitted half is freed; otherwise both halves are
// freed and the slot is removed entirely. The orphan VG name is a
// wildcard meaning "both", regardless of dropPrecommitted (§4.6).
func (c *Cache) Drop(vgname string, dropPrecommitted bool) error {
	wildcard := isOrphanName(vgname) || vgname == ""
	for vgid, slot := range c.saved {
		if !wildcard && slot.name != vgname {
			continue
		}
		if dropPrecommitted && !wildcard {
			if slot.new != nil {
				slot.deferredFree = append(slot.deferredFree, slot.new)
				slot.new = nil
			}
			continue
		}
		c.dropSlot(vgid, false)
	}
	return nil
}

// DropByVGID invalidates both halves of vgid's slot (§4.6).
func (c *Cache) DropByVGID(vgid VGID) error {
	c.dropSlot(vgid, false)
	return nil
}

// dropSlot frees both halves of vgid's slot and removes it from the
// buffer. keepDeferred, when true, appends the freed halves onto the
// deferred-free list of a replacement empty slot instead of discarding
// them outright, for callers that must keep a displaced reference
// reachable across the call (§4.6 "deferred invalidation").
func (c *Cache) dropSlot(vgid VGID, keepDeferred bool) {
	slot, ok := c.saved[vgid]
	if !ok {
		return
	}
	if !keepDeferred {
		delete(c.saved, vgid)
		return
	}
	var deferred []*retainedSnapshot
	deferred = append(deferred, slot.deferredFree...)
	if slot.old != nil {
		deferred = append(deferred, slot.old)
	}
	if slot.new != nil {
		deferred = append(deferred, slot.new)
	}
	c.saved[vgid] = &savedSlot{name: slot.name, deferredFree: deferred}
}

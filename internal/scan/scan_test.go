// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package scan

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lvmcache/internal/cache"
)

var _ = Describe("Scan", func() {
	var (
		ctx      context.Context
		c        *cache.Cache
		labeller FakeLabeller
		pvid     cache.PVID
		vgid     cache.VGID
		devA     Device
	)

	BeforeEach(func() {
		ctx = context.Background()
		c = cache.New(ctx)
		labeller = FakeLabeller{FormatName: "lvm2"}
		pvid = cache.PVID(uuid.New())
		vgid = cache.VGID(uuid.New())
		devA = NewDevice("/dev/sdb", 1<<20)
	})

	When("a device carries a witnessed label", func() {
		It("adds it and reconciles the witness into its VG", func() {
			devices := NewFakeDeviceCache(devA)
			reader := NewFakeLabelReader(map[string]ScanResult{
				devA.Path(): {
					Device:   devA,
					PVID:     pvid,
					Labeller: labeller,
					VGName:   "vg0",
					VGID:     vgid,
					Witness:  &Witness{Seqno: 3, MDASize: 4096, MDAChecksum: 0xBEEF},
				},
			})

			results, err := Scan(ctx, c, devices, reader, logr.Discard())
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))

			info, ok := c.GetInfoByPVID(pvid, nil)
			Expect(ok).To(BeTrue())
			Expect(info.VGInfo().Name).To(Equal("vg0"))
			Expect(info.VGInfo().HasWitness).To(BeTrue())
			Expect(info.VGInfo().Seqno).To(Equal(uint64(3)))
		})
	})

	When("the device cache reports no devices", func() {
		It("surfaces the error and inserts nothing", func() {
			devices := NewFakeDeviceCache()
			reader := NewFakeLabelReader(nil)

			_, err := Scan(ctx, c, devices, reader, logr.Discard())
			Expect(err).To(HaveOccurred())
			Expect(c.VGNames()).To(BeEmpty())
		})
	})

	When("two devices report the same pvid", func() {
		It("resolves the duplicate and keeps only the preferred device", func() {
			devStale := NewDevice("/dev/sdd", 1<<20)
			devPreferred := NewDevice("/dev/dm-0", 1<<20)
			devices := NewFakeDeviceCache(devStale, devPreferred)
			reader := NewFakeLabelReader(map[string]ScanResult{
				// devPreferred sorts before devStale and is added first;
				// devStale then loses both the initial Add race and the
				// priority ladder (not mounted, vs. devPreferred which is).
				devPreferred.Path(): {
					Device:       devPreferred,
					PVID:         pvid,
					Labeller:     labeller,
					VGName:       "vgdup",
					VGID:         vgid,
					SizeMatches:  true,
					Mounted:      true,
					DeviceMapper: true,
				},
				devStale.Path(): {
					Device:         devStale,
					PVID:           pvid,
					Labeller:       labeller,
					VGName:         "vgdup",
					VGID:           vgid,
					SizeMatches:    true,
					DeviceMapper:   true,
					DMMajorIsStale: true,
				},
			})

			_, err := Scan(ctx, c, devices, reader, logr.Discard())
			Expect(err).NotTo(HaveOccurred())

			Expect(c.FoundDuplicatePVs()).To(BeFalse(), "Resolve should have drained the found-duplicates list")

			info, ok := c.GetInfoByPVID(pvid, nil)
			Expect(ok).To(BeTrue())
			Expect(info.Device.Path()).To(Equal(devPreferred.Path()))
			Expect(c.DevIsUnchosenDuplicate(devStale)).To(BeTrue())
		})
	})

	When("a device carries no recognized label", func() {
		It("is skipped without failing the whole scan", func() {
			devB := NewDevice("/dev/sdc", 1<<20)
			devices := NewFakeDeviceCache(devA, devB)
			reader := NewFakeLabelReader(map[string]ScanResult{
				devA.Path(): {
					Device:   devA,
					PVID:     pvid,
					Labeller: labeller,
					VGName:   "vg0",
					VGID:     vgid,
				},
			})

			results, err := Scan(ctx, c, devices, reader, logr.Discard())
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Device.Path()).To(Equal(devA.Path()))
		})
	})
})

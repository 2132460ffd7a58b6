// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2/textlogger"

	"lvmcache/internal/cache"
	"lvmcache/internal/events"
	"lvmcache/internal/scan"
	"lvmcache/internal/telemetry"
	"lvmcache/internal/version"
)

func main() {
	var traceSampleRate int
	var eventRecorderEnabled bool
	var printVersionAndExit bool

	flag.IntVar(&traceSampleRate, "trace-sample-rate", 0,
		"Sample rate per million. 0 to disable tracing, 1000000 to trace everything.")
	flag.BoolVar(&eventRecorderEnabled, "event-recorder-enabled", true,
		"If enabled, duplicate and mismatch warnings are additionally logged as events.")
	flag.BoolVar(&printVersionAndExit, "version", false, "Print version and exit")

	logConfig := textlogger.NewConfig(textlogger.VerbosityFlagName("v"))
	logConfig.AddFlags(flag.CommandLine)
	flag.Parse()

	log := textlogger.NewLogger(logConfig)

	version.Log(log)
	if printVersionAndExit {
		return
	}

	ctx := context.Background()

	t, err := telemetry.New(ctx,
		telemetry.WithPrometheus(prometheus.DefaultRegisterer),
		telemetry.WithTraceSampleRate(traceSampleRate),
	)
	if err != nil {
		log.Error(err, "failed to initialize telemetry")
		os.Exit(1)
	}

	recorder := events.NewNoopRecorder()
	if eventRecorderEnabled {
		recorder = events.NewLoggingRecorder(log)
	}

	metrics := cache.NewMetrics(prometheus.DefaultRegisterer)

	c := cache.New(ctx,
		cache.WithLogger(log),
		cache.WithRecorder(recorder),
		cache.WithTracerProvider(t.TraceProvider()),
		cache.WithMetrics(metrics),
	)

	devices, reader := demoScenario()

	results, err := scan.Scan(ctx, c, devices, reader, log)
	if err != nil {
		log.Error(err, "scan failed")
		os.Exit(1)
	}

	fmt.Printf("scanned %d device(s)\n\n", len(results))
	printRegistry(c)
}

// demoScenario builds a small fixed device/label fixture exercising a
// two-PV volume group, an unrelated orphan device, and a multipath-style
// duplicate PV (two devices reporting the same PV id, only one of them
// mounted) so the duplicate resolver runs end to end without touching
// real hardware.
func demoScenario() (*scan.FakeDeviceCache, *scan.FakeLabelReader) {
	devA := scan.NewDevice("/dev/sdb", 10<<30)
	devB := scan.NewDevice("/dev/sdc", 10<<30)
	devOrphan := scan.NewDevice("/dev/sdd", 5<<30)
	devDupStale := scan.NewDevice("/dev/sde", 8<<30)
	devDupPreferred := scan.NewDevice("/dev/dm-0", 8<<30)

	pv1 := cache.PVID(uuid.New())
	pv2 := cache.PVID(uuid.New())
	pvOrphan := cache.PVID(uuid.New())
	pvDup := cache.PVID(uuid.New())
	vgid := cache.VGID(uuid.New())
	vgidDup := cache.VGID(uuid.New())

	labeller := scan.FakeLabeller{FormatName: "lvm2"}

	results := map[string]scan.ScanResult{
		devA.Path(): {
			Device:       devA,
			PVID:         pv1,
			Labeller:     labeller,
			VGName:       "vg0",
			VGID:         vgid,
			CreationHost: "node-a",
			Witness:      &scan.Witness{Seqno: 5, MDASize: 1 << 20, MDAChecksum: 0xAAAA},
		},
		devB.Path(): {
			Device:       devB,
			PVID:         pv2,
			Labeller:     labeller,
			VGName:       "vg0",
			VGID:         vgid,
			CreationHost: "node-a",
			Witness:      &scan.Witness{Seqno: 5, MDASize: 1 << 20, MDAChecksum: 0xAAAA},
		},
		devOrphan.Path(): {
			Device:   devOrphan,
			PVID:     pvOrphan,
			Labeller: labeller,
			VGName:   "",
		},
		// devDupPreferred (/dev/dm-0) sorts before devDupStale
		// (/dev/sde), so it is scanned first and wins the initial Add;
		// devDupStale is recorded as a duplicate and then loses the
		// priority ladder because only devDupPreferred is mounted.
		devDupStale.Path(): {
			Device:         devDupStale,
			PVID:           pvDup,
			Labeller:       labeller,
			VGName:         "vgdup",
			VGID:           vgidDup,
			CreationHost:   "node-a",
			SizeMatches:    true,
			DeviceMapper:   true,
			DMMajorIsStale: true,
		},
		devDupPreferred.Path(): {
			Device:         devDupPreferred,
			PVID:           pvDup,
			Labeller:       labeller,
			VGName:         "vgdup",
			VGID:           vgidDup,
			CreationHost:   "node-a",
			SizeMatches:    true,
			Mounted:        true,
			DeviceMapper:   true,
			DMMajorIsStale: false,
		},
	}

	devices := scan.NewFakeDeviceCache(devA, devB, devOrphan, devDupStale, devDupPreferred)
	reader := scan.NewFakeLabelReader(results)
	return devices, reader
}

func printRegistry(c *cache.Cache) {
	for _, vgid := range c.VGIDs() {
		vg, ok := c.GetVGInfoByVGID(vgid)
		if !ok {
			continue
		}
		label := vg.Name
		if label == "" {
			label = "(orphan)"
		}
		fmt.Printf("%-*s  id=%s  pvs=%d\n", c.MaxVGNameLen()+2, label, vg.ID.String(), len(vg.Infos))
		for _, info := range vg.Infos {
			fmt.Printf("  - %s pvid=%s locked=%v\n", info.Device.Path(), info.PVID.String(), info.CacheLocked)
		}
	}
}

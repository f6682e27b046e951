// Command ddafa runs an FDK cone-beam reconstruction from a directory of
// raw float32 projection files, producing a single flat float32 volume
// file, per spec.md end to end.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"ddafa/internal/engine"
	"ddafa/internal/geometry"
	"ddafa/internal/metrics"
	"ddafa/internal/scheduler"
	"ddafa/pkg/config"
	"ddafa/pkg/rawio"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (see pkg/config); flags below override its values")
	inputDir := flag.String("input", "", "Directory containing raw projection files")
	inputPattern := flag.String("pattern", "proj_*.bin", "Glob pattern selecting projection files within -input")
	outputPath := flag.String("output", "volume.bin", "Output path for the reconstructed volume (flat little-endian float32)")

	nRow := flag.Int("n-row", 0, "Detector row count (0 keeps the config/default value)")
	nCol := flag.Int("n-col", 0, "Detector column count (0 keeps the config/default value)")
	lPxRow := flag.Float64("l-px-row", 0, "Detector row pixel pitch in mm (0 keeps the config/default value)")
	lPxCol := flag.Float64("l-px-col", 0, "Detector column pixel pitch in mm (0 keeps the config/default value)")
	dso := flag.Float64("dso", 0, "Source-to-object distance in mm (0 keeps the config/default value)")
	dod := flag.Float64("dod", 0, "Object-to-detector distance in mm (0 keeps the config/default value)")
	nProj := flag.Int("n-proj", 0, "Number of projections per rotation (0 keeps the config/default value)")

	angleFile := flag.String("angles", "", "Path to an angle file; empty falls back to a uniform rotation step")
	deviceCount := flag.Int("devices", 0, "Number of logical devices (0 keeps the config/default value)")
	deviceMemory := flag.Int64("device-memory", 0, "Per-device memory budget in bytes (0 keeps the config/default value)")

	roiEnabled := flag.Bool("roi", false, "Clip the reconstruction to a region of interest")
	roiX1 := flag.Int("roi-x1", 0, "ROI lower x bound (voxel index)")
	roiX2 := flag.Int("roi-x2", 0, "ROI upper x bound (voxel index)")
	roiY1 := flag.Int("roi-y1", 0, "ROI lower y bound (voxel index)")
	roiY2 := flag.Int("roi-y2", 0, "ROI upper y bound (voxel index)")
	roiZ1 := flag.Int("roi-z1", 0, "ROI lower z bound (voxel index)")
	roiZ2 := flag.Int("roi-z2", 0, "ROI upper z bound (voxel index)")

	verbose := flag.Bool("verbose", false, "Print scheduler plan and post-run diagnostics")
	flag.Parse()

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	applyOverrides(cfg, *nRow, *nCol, *lPxRow, *lPxCol, *dso, *dod, *nProj, *angleFile, *deviceCount, *deviceMemory)

	fmt.Println("================================")
	fmt.Println("DDAFA — FDK CONE-BEAM CT RECONSTRUCTION")
	fmt.Println("================================")

	d := geometry.Detector{
		NRow: cfg.Detector.NRow, NCol: cfg.Detector.NCol,
		LPxRow: cfg.Detector.LPxRow, LPxCol: cfg.Detector.LPxCol,
		DeltaS: cfg.Detector.DeltaS, DeltaT: cfg.Detector.DeltaT,
		DSO: cfg.Detector.DSO, DOD: cfg.Detector.DOD,
		NProj: cfg.Detector.NProj, RotAngle: cfg.Detector.RotAngle,
	}

	devices := make([]scheduler.DeviceMemory, cfg.Device.Count)
	for i := range devices {
		devices[i] = scheduler.DeviceMemory{Device: i, Bytes: cfg.Device.MemoryBytes}
	}

	var roi *geometry.ROI
	if *roiEnabled {
		roi = &geometry.ROI{X1: *roiX1, X2: *roiX2, Y1: *roiY1, Y2: *roiY2, Z1: *roiZ1, Z2: *roiZ2}
	} else if cfg.ROI.Enabled {
		roi = &geometry.ROI{X1: cfg.ROI.X1, X2: cfg.ROI.X2, Y1: cfg.ROI.Y1, Y2: cfg.ROI.Y2, Z1: cfg.ROI.Z1, Z2: cfg.ROI.Z2}
	}

	eng, err := engine.New(engine.Config{
		Detector:      d,
		ROI:           roi,
		Devices:       devices,
		AnglePath:     cfg.Pipeline.AngleFile,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
	})
	if err != nil {
		log.Fatalf("planning reconstruction: %v", err)
	}

	if *verbose {
		printPlan(eng, roi)
	}

	source, err := rawio.NewProjectionSource(*inputDir, *inputPattern, d.NRow, d.NCol)
	if err != nil {
		log.Fatalf("opening projection source: %v", err)
	}
	if source.NumProjections() == 0 {
		log.Fatalf("no projection files matched %s/%s", *inputDir, *inputPattern)
	}
	sink := rawio.VolumeSink{Path: *outputPath}

	fmt.Printf("Reconstructing %d projections across %d device(s)...\n", source.NumProjections(), len(devices))
	start := time.Now()
	if err := eng.Run(source, sink); err != nil {
		log.Fatalf("reconstruction failed: %v", err)
	}
	elapsed := time.Since(start)

	vol := eng.Plan().Volume
	fmt.Printf("\nReconstruction completed successfully in %.2f seconds!\n", elapsed.Seconds())
	fmt.Printf("Output volume (%dx%dx%d voxels) saved to: %s\n", vol.DimX, vol.DimY, vol.DimZ, *outputPath)

	if *verbose {
		printDiagnostics(*outputPath, vol)
	}
}

func applyOverrides(cfg *config.Config, nRow, nCol int, lPxRow, lPxCol, dso, dod float64, nProj int, angleFile string, deviceCount int, deviceMemory int64) {
	if nRow > 0 {
		cfg.Detector.NRow = nRow
	}
	if nCol > 0 {
		cfg.Detector.NCol = nCol
	}
	if lPxRow > 0 {
		cfg.Detector.LPxRow = lPxRow
	}
	if lPxCol > 0 {
		cfg.Detector.LPxCol = lPxCol
	}
	if dso > 0 {
		cfg.Detector.DSO = dso
	}
	if dod > 0 {
		cfg.Detector.DOD = dod
	}
	if nProj > 0 {
		cfg.Detector.NProj = nProj
	}
	if angleFile != "" {
		cfg.Pipeline.AngleFile = angleFile
	}
	if deviceCount > 0 {
		cfg.Device.Count = deviceCount
	}
	if deviceMemory > 0 {
		cfg.Device.MemoryBytes = deviceMemory
	}
}

func printPlan(eng *engine.Engine, roi *geometry.ROI) {
	plan := eng.Plan()
	fmt.Printf("\nScheduler plan: volume %dx%dx%d, %d device(s)\n", plan.Volume.DimX, plan.Volume.DimY, plan.Volume.DimZ, len(plan.PerDevice))
	for _, dp := range plan.PerDevice {
		fmt.Printf("  device %d: %d sub-volume(s)\n", dp.Device, len(dp.SubVolumes))
		for _, sv := range dp.SubVolumes {
			fmt.Printf("    z=[%d,%d) rows=[%d,%d]\n", sv.ZOffset, sv.ZOffset+sv.DimZLocal, sv.Row.Top, sv.Row.Bottom)
		}
	}

	if roi != nil {
		index := scheduler.NewROIIndex(plan)
		touched := index.ClippedBy(*roi)
		fmt.Printf("  ROI %+v touches %d sub-volume(s)\n", *roi, len(touched))
	}
}

func printDiagnostics(outputPath string, vol geometry.Volume) {
	raw, err := os.ReadFile(outputPath)
	if err != nil {
		log.Printf("diagnostics: reading back %s: %v", outputPath, err)
		return
	}
	want := vol.DimX * vol.DimY * vol.DimZ * 4
	if len(raw) != want {
		log.Printf("diagnostics: output file is %d bytes, expected %d", len(raw), want)
		return
	}

	data := decodeVolume(raw)
	fmt.Println("\nPost-run diagnostics:")
	fmt.Printf("- Central value: %.6f\n", metrics.CentralValue(vol, data))
	fmt.Printf("- Edge mean:     %.6f\n", metrics.EdgeMean(vol, data))
	if vol.DimX == vol.DimY {
		dev, err := metrics.FourFoldSymmetryMaxDeviation(vol, data, vol.DimZ/2)
		if err != nil {
			log.Printf("diagnostics: %v", err)
		} else {
			fmt.Printf("- Four-fold symmetry max deviation (mid slice): %.6f\n", dev)
		}
	}
}

func decodeVolume(raw []byte) []float32 {
	data := make([]float32, len(raw)/4)
	for i := range data {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		data[i] = math.Float32frombits(bits)
	}
	return data
}

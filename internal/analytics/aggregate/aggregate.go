// Package aggregate derives per-device summary features from raw scan records.
//
// The aggregation runs in two passes, mirroring the shape of the data:
//
//  1. Group records by (device, scan) into one Summary per scan, counting the
//     observed process rows and taking the reported count from the first row
//     of the group (it is constant within a scan).
//  2. Group summaries by device into one DeviceFeatures per device, computing
//     the mean and sample standard deviation (divisor n-1) of the scan
//     discrepancies.
//
// Input order is preserved: devices and scans keep their first-seen position,
// which downstream stages rely on for stable tie-breaking.
package aggregate

import (
	"fmt"
	"math"

	"github.com/fleetsight/fleetsight/internal/scan"
)

// Summarize groups records by (device, scan) and returns one Summary per
// group, in first-seen order. It validates every record and fails with
// *scan.MalformedInputError on the first invalid one.
func Summarize(records []scan.Record) ([]scan.Summary, error) {
	if len(records) == 0 {
		return nil, &scan.MalformedInputError{Index: -1, Reason: "empty input sequence"}
	}

	type group struct {
		index    int // position in the output slice
		observed int
		reported int
	}

	groups := make(map[[2]string]*group)
	var order [][2]string

	for i, r := range records {
		if err := validate(i, r); err != nil {
			return nil, err
		}
		key := [2]string{r.DeviceID, r.ScanID}
		g, ok := groups[key]
		if !ok {
			g = &group{index: len(order), reported: r.ReportedProcCount}
			groups[key] = g
			order = append(order, key)
		}
		g.observed++
	}

	summaries := make([]scan.Summary, len(order))
	for _, key := range order {
		g := groups[key]
		summaries[g.index] = scan.Summary{
			DeviceID:          key[0],
			ScanID:            key[1],
			ObservedProcCount: g.observed,
			ReportedProcCount: g.reported,
			Discrepancy:       float64(g.observed - g.reported),
		}
	}
	return summaries, nil
}

// Features reduces per-scan summaries to exactly one DeviceFeatures per
// distinct device, in first-seen device order. Devices with a single scan get
// HasStd=false; their StdDiscrepancy is left undefined rather than coerced
// to zero.
func Features(summaries []scan.Summary) []scan.DeviceFeatures {
	perDevice := make(map[string][]float64)
	var order []string

	for _, s := range summaries {
		if _, ok := perDevice[s.DeviceID]; !ok {
			order = append(order, s.DeviceID)
		}
		perDevice[s.DeviceID] = append(perDevice[s.DeviceID], s.Discrepancy)
	}

	features := make([]scan.DeviceFeatures, 0, len(order))
	for _, id := range order {
		values := perDevice[id]
		mean := meanOf(values)
		f := scan.DeviceFeatures{
			DeviceID:        id,
			ScanCount:       len(values),
			MeanDiscrepancy: mean,
		}
		if len(values) >= 2 {
			f.StdDiscrepancy = sampleStd(values, mean)
			f.HasStd = true
		}
		features = append(features, f)
	}
	return features
}

// Run performs the full aggregation: records to summaries to features.
func Run(records []scan.Record) ([]scan.Summary, []scan.DeviceFeatures, error) {
	summaries, err := Summarize(records)
	if err != nil {
		return nil, nil, err
	}
	return summaries, Features(summaries), nil
}

func validate(index int, r scan.Record) error {
	switch {
	case r.DeviceID == "":
		return &scan.MalformedInputError{Index: index, Reason: "missing device_id"}
	case r.ScanID == "":
		return &scan.MalformedInputError{Index: index, Reason: "missing scan_id"}
	case r.ProcessName == "":
		return &scan.MalformedInputError{Index: index, Reason: "missing process_name"}
	case r.ReportedProcCount < 0:
		return &scan.MalformedInputError{
			Index:  index,
			Reason: fmt.Sprintf("negative reported_proc_count %d", r.ReportedProcCount),
		}
	}
	return nil
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd computes the sample standard deviation with divisor n-1.
func sampleStd(values []float64, mean float64) float64 {
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

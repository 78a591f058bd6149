// Package models defines the records that flow between the detector, the
// scanner and the result sinks.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Match is one detected anomaly occurrence.
// A Match is immutable once appended to a result list; Decorate is the only
// sanctioned mutation and happens before the record is published.
type Match struct {
	LineNumber int       `json:"line_number"` // 1-based physical line number
	Line       string    `json:"line"`        // trimmed raw line
	Fragment   string    `json:"pattern"`     // exact substring the pattern matched
	Category   string    `json:"category"`
	File       string    `json:"file,omitempty"`      // basename of the source file
	FullPath   string    `json:"full_path,omitempty"` // path as discovered, for re-opening
	Device     string    `json:"device,omitempty"`    // file name without extension
	DetectedAt time.Time `json:"timestamp"`
}

// DeviceName derives the device name from a log file path.
// "/var/log/ap-01.log" yields "ap-01".
func DeviceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Decorate attaches file and device provenance to every match in place.
func Decorate(matches []Match, path string) {
	base := filepath.Base(path)
	device := DeviceName(path)
	for i := range matches {
		matches[i].File = base
		matches[i].FullPath = path
		matches[i].Device = device
	}
}

// CategoryCounts tallies matches per category.
func CategoryCounts(matches []Match) map[string]int {
	counts := make(map[string]int)
	for _, m := range matches {
		counts[m.Category]++
	}
	return counts
}

// Categorized groups a match list the way exported reports present it.
type Categorized struct {
	Device     string             `json:"device"`
	Count      int                `json:"count"`
	Categories map[string][]Match `json:"categories"`
	Matches    []Match            `json:"anomalies"`
}

// Categorize groups matches by category for a single device.
// An empty device is reported as "Unknown".
func Categorize(matches []Match, device string) Categorized {
	if device == "" {
		device = "Unknown"
	}
	c := Categorized{
		Device:     device,
		Count:      len(matches),
		Categories: make(map[string][]Match),
		Matches:    matches,
	}
	for _, m := range matches {
		c.Categories[m.Category] = append(c.Categories[m.Category], m)
	}
	return c
}

// CategorizeByDevice splits an aggregate list per source device, preserving
// the relative order of matches within each device.
func CategorizeByDevice(matches []Match) map[string]Categorized {
	byDevice := make(map[string][]Match)
	for _, m := range matches {
		byDevice[m.Device] = append(byDevice[m.Device], m)
	}
	out := make(map[string]Categorized, len(byDevice))
	for device, ms := range byDevice {
		c := Categorize(ms, device)
		out[c.Device] = c
	}
	return out
}

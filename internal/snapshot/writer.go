// Package snapshot archives trace analysis reports on disk.
package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"SpectraIDS/internal/engine/flowtable"
	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
)

const (
	eventsFile  = "events.gob"
	summaryFile = "summary.json"
)

// Report is the outcome of analysing one trace.
type Report struct {
	TraceName string
	Events    []*model.DetectionEvent
	Stats     flowtable.Stats
}

// SummaryData holds the metadata for an archived report.
type SummaryData struct {
	TraceName       string         `json:"trace_name"`
	TotalEvents     int            `json:"total_events"`
	Labels          map[string]int `json:"labels"`
	PacketsObserved uint64         `json:"packets_observed"`
	PacketsSkipped  uint64         `json:"packets_skipped"`
	PacketsRejected uint64         `json:"packets_rejected"`
	Timestamp       string         `json:"timestamp"`
}

// Writer handles writing reports to disk.
type Writer struct {
	rootPath string
}

// NewWriter creates a writer rooted at rootPath.
func NewWriter(rootPath string) *Writer {
	return &Writer{rootPath: rootPath}
}

// Write stores report under <root>/<timestamp>/<trace name>/ and returns
// that directory. Reports without events only get a summary.
func (w *Writer) Write(report Report, timestamp string) (string, error) {
	dir := filepath.Join(w.rootPath, timestamp, sanitize(report.TraceName))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	if len(report.Events) > 0 {
		path := filepath.Join(dir, eventsFile)
		file, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("failed to create events file '%s': %w", path, err)
		}
		defer file.Close()

		if err := gob.NewEncoder(file).Encode(report.Events); err != nil {
			return "", fmt.Errorf("failed to encode events to gob for file '%s': %w", path, err)
		}
	}

	summary := SummaryData{
		TraceName:       report.TraceName,
		TotalEvents:     len(report.Events),
		Labels:          make(map[string]int),
		PacketsObserved: report.Stats.Observed,
		PacketsSkipped:  report.Stats.Skipped,
		PacketsRejected: report.Stats.Rejected,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	for _, ev := range report.Events {
		summary.Labels[ev.Label]++
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode summary to json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, summaryFile), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return dir, nil
}

// ReadEvents loads the events archived in dir.
func ReadEvents(dir string) ([]*model.DetectionEvent, error) {
	file, err := os.Open(filepath.Join(dir, eventsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []*model.DetectionEvent
	if err := gob.NewDecoder(file).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode events file: %w", err)
	}
	return events, nil
}

// ReadSummary loads the summary archived in dir.
func ReadSummary(dir string) (*SummaryData, error) {
	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		return nil, err
	}
	var s SummaryData
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode summary file: %w", err)
	}
	return &s, nil
}

// List returns the report directories under the root, oldest first.
func (w *Writer) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.rootPath, "*", "*", summaryFile))
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(matches))
	for _, m := range matches {
		dirs = append(dirs, filepath.Dir(m))
	}
	sort.Strings(dirs)
	return dirs, nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "trace"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

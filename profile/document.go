// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profile // import "github.com/perfrecord/perfrecord/profile"

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// GeckoVersion is the Gecko profile format version written to meta.version.
const GeckoVersion = 24

// Document is a profile in the Gecko format understood by the Firefox Profiler.
type Document struct {
	Meta         Meta       `json:"meta"`
	Libs         []DocLib   `json:"libs"`
	Threads      []Thread   `json:"threads"`
	PausedRanges []struct{} `json:"pausedRanges"`
	Processes    []struct{} `json:"processes"`
}

// Category is an entry of meta.categories.
type Category struct {
	Name          string   `json:"name"`
	Color         string   `json:"color"`
	Subcategories []string `json:"subcategories"`
}

// Meta holds the profile wide metadata. Times are in milliseconds.
type Meta struct {
	Version         int        `json:"version"`
	StartTime       float64    `json:"startTime"`
	ShutdownTime    *float64   `json:"shutdownTime"`
	Interval        float64    `json:"interval"`
	Stackwalk       int        `json:"stackwalk"`
	ProcessType     int        `json:"processType"`
	Debug           int        `json:"debug"`
	GCPoison        int        `json:"gcpoison"`
	AsyncStack      int        `json:"asyncstack"`
	Product         string     `json:"product"`
	Abi             string     `json:"abi,omitempty"`
	Oscpu           string     `json:"oscpu,omitempty"`
	Platform        string     `json:"platform,omitempty"`
	AppBuildID      string     `json:"appBuildID,omitempty"`
	Presymbolicated bool       `json:"presymbolicated"`
	Categories      []Category `json:"categories"`
}

// DocLib is a loaded image as listed in the document.
type DocLib struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	DebugName  string `json:"debugName"`
	DebugPath  string `json:"debugPath"`
	BreakpadID string `json:"breakpadId"`
	Arch       string `json:"arch,omitempty"`
	Start      uint64 `json:"start"`
	End        uint64 `json:"end"`
	Offset     uint64 `json:"offset"`
}

// Thread is the per-thread part of the document.
type Thread struct {
	Name           string      `json:"name"`
	ProcessType    string      `json:"processType"`
	ProcessName    string      `json:"processName"`
	PID            uint32      `json:"pid"`
	TID            uint64      `json:"tid"`
	RegisterTime   float64     `json:"registerTime"`
	UnregisterTime *float64    `json:"unregisterTime"`
	Samples        SampleTable `json:"samples"`
	StackTable     StackTable  `json:"stackTable"`
	FrameTable     FrameTable  `json:"frameTable"`
	Markers        MarkerTable `json:"markers"`
	StringTable    []string    `json:"stringTable"`
}

// SampleSchema maps the sample row columns.
type SampleSchema struct {
	Stack          int `json:"stack"`
	Time           int `json:"time"`
	Responsiveness int `json:"responsiveness"`
}

// SampleTable lists the samples of a thread in time order.
type SampleTable struct {
	Schema SampleSchema `json:"schema"`
	Data   []SampleRow  `json:"data"`
}

// SampleRow is [stack, time, responsiveness]. A negative Stack is written as null.
type SampleRow struct {
	Stack int32
	Time  float64
}

// StackSchema maps the stack row columns.
type StackSchema struct {
	Prefix int `json:"prefix"`
	Frame  int `json:"frame"`
}

// StackTable is the prefix tree of the stacks of a thread.
type StackTable struct {
	Schema StackSchema `json:"schema"`
	Data   []StackRow  `json:"data"`
}

// StackRow is [prefix, frame]. A negative Prefix is a root and written as null.
type StackRow struct {
	Prefix int32
	Frame  uint32
}

// FrameSchema maps the frame row columns.
type FrameSchema struct {
	Location      int `json:"location"`
	RelevantForJS int `json:"relevantForJS"`
	InnerWindowID int `json:"innerWindowID"`
	Impl          int `json:"implementation"`
	Optimizations int `json:"optimizations"`
	Line          int `json:"line"`
	Column        int `json:"column"`
	Category      int `json:"category"`
}

// FrameTable lists the frames of a thread.
type FrameTable struct {
	Schema FrameSchema `json:"schema"`
	Data   []FrameRow  `json:"data"`
}

// FrameRow is [location, relevantForJS, innerWindowID, implementation,
// optimizations, line, column, category] of which only location, an index
// into the string table, and category carry data.
type FrameRow struct {
	Location uint32
	Category int
}

// MarkerSchema maps the marker row columns.
type MarkerSchema struct {
	Name      int `json:"name"`
	StartTime int `json:"startTime"`
	EndTime   int `json:"endTime"`
	Phase     int `json:"phase"`
	Category  int `json:"category"`
	Data      int `json:"data"`
}

// MarkerTable is always empty; the Firefox Profiler requires it.
type MarkerTable struct {
	Schema MarkerSchema      `json:"schema"`
	Data   []json.RawMessage `json:"data"`
}

var (
	sampleSchema = SampleSchema{Stack: 0, Time: 1, Responsiveness: 2}
	stackSchema  = StackSchema{Prefix: 0, Frame: 1}
	frameSchema  = FrameSchema{Location: 0, RelevantForJS: 1, InnerWindowID: 2, Impl: 3,
		Optimizations: 4, Line: 5, Column: 6, Category: 7}
	markerSchema = MarkerSchema{Name: 0, StartTime: 1, EndTime: 2, Phase: 3, Category: 4,
		Data: 5}
)

func nullableIndex(v int32) any {
	if v < 0 {
		return nil
	}
	return v
}

// decodeRow splits a JSON array into its columns and checks their number.
func decodeRow(data []byte, minColumns int) ([]json.RawMessage, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	if len(row) < minColumns {
		return nil, fmt.Errorf("row %s has %d columns, want %d", data, len(row), minColumns)
	}
	return row, nil
}

// decodeIndex parses a column holding an index or null (-1).
func decodeIndex(col json.RawMessage) (int32, error) {
	if string(col) == "null" {
		return -1, nil
	}
	var v int32
	if err := json.Unmarshal(col, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r SampleRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{nullableIndex(r.Stack), r.Time, 0})
}

func (r *SampleRow) UnmarshalJSON(data []byte) error {
	row, err := decodeRow(data, 2)
	if err != nil {
		return err
	}
	if r.Stack, err = decodeIndex(row[sampleSchema.Stack]); err != nil {
		return err
	}
	return json.Unmarshal(row[sampleSchema.Time], &r.Time)
}

func (r StackRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{nullableIndex(r.Prefix), r.Frame})
}

func (r *StackRow) UnmarshalJSON(data []byte) error {
	row, err := decodeRow(data, 2)
	if err != nil {
		return err
	}
	if r.Prefix, err = decodeIndex(row[stackSchema.Prefix]); err != nil {
		return err
	}
	return json.Unmarshal(row[stackSchema.Frame], &r.Frame)
}

func (r FrameRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Location, false, 0, nil, nil, nil, nil, r.Category})
}

func (r *FrameRow) UnmarshalJSON(data []byte) error {
	row, err := decodeRow(data, 1)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(row[frameSchema.Location], &r.Location); err != nil {
		return err
	}
	r.Category = 0
	if len(row) > frameSchema.Category && string(row[frameSchema.Category]) != "null" {
		return json.Unmarshal(row[frameSchema.Category], &r.Category)
	}
	return nil
}

// ErrInvalidDocument is returned for input that is not a well formed profile.
var ErrInvalidDocument = errors.New("invalid profile document")

// Validate checks the cross references of the thread tables.
func (d *Document) Validate() error {
	if d.Meta.Version <= 0 {
		return fmt.Errorf("%w: missing meta.version", ErrInvalidDocument)
	}
	if d.Meta.Interval <= 0 {
		return fmt.Errorf("%w: meta.interval must be positive", ErrInvalidDocument)
	}
	for i := range d.Threads {
		if err := d.Threads[i].validate(); err != nil {
			return fmt.Errorf("%w: thread %d (%s): %v", ErrInvalidDocument, i,
				d.Threads[i].Name, err)
		}
	}
	return nil
}

func (t *Thread) validate() error {
	for i, f := range t.FrameTable.Data {
		if int(f.Location) >= len(t.StringTable) {
			return fmt.Errorf("frame %d references string %d", i, f.Location)
		}
	}
	for i, s := range t.StackTable.Data {
		if int(s.Frame) >= len(t.FrameTable.Data) {
			return fmt.Errorf("stack %d references frame %d", i, s.Frame)
		}
		if s.Prefix >= int32(i) {
			return fmt.Errorf("stack %d has prefix %d", i, s.Prefix)
		}
	}
	last := math.Inf(-1)
	for i, s := range t.Samples.Data {
		if int(s.Stack) >= len(t.StackTable.Data) {
			return fmt.Errorf("sample %d references stack %d", i, s.Stack)
		}
		if s.Time < last {
			return fmt.Errorf("sample %d goes back in time", i)
		}
		last = s.Time
	}
	return nil
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSymbolizer resolves file offsets of one object.
type mapSymbolizer map[uint64]string

func (m mapSymbolizer) Symbolize(path string, fileOffset uint64) (string, bool) {
	if path != "/bin/app" {
		return "", false
	}
	name, ok := m[fileOffset]
	return name, ok
}

func testBuilder() *Builder {
	b := NewBuilder(t0, 2*time.Millisecond)
	b.AddProcess(ProcessInfo{PID: 42, Command: "app", StartTime: t0, Libs: []Lib{
		{Path: "/bin/app", Start: 0x400000, End: 0x401000, Offset: 0x1000},
	}})
	b.StartThread(42, 42, t0)
	b.SetThreadName(42, 42, "app")
	b.RecordSample(42, 42, t0.Add(2*time.Millisecond), frames(0x400010, 0x400020))
	b.RecordSample(42, 42, t0.Add(4*time.Millisecond), frames(0x400010, 0x400020))
	b.RecordSample(42, 43, t0.Add(4*time.Millisecond), frames(0x7f0000001234))
	b.RecordSample(42, 43, t0.Add(6*time.Millisecond), nil)
	b.EndThread(42, 43, t0.Add(8*time.Millisecond))
	return b
}

func TestDocument(t *testing.T) {
	b := testBuilder()
	doc := b.Document(DocumentOptions{Version: "v1.2.3"})

	assert.Equal(t, GeckoVersion, doc.Meta.Version)
	assert.Equal(t, "app", doc.Meta.Product)
	assert.InDelta(t, 2.0, doc.Meta.Interval, 1e-9)
	assert.InDelta(t, 1700000000000.0, doc.Meta.StartTime, 1e-3)
	assert.Equal(t, "v1.2.3", doc.Meta.AppBuildID)
	assert.False(t, doc.Meta.Presymbolicated)
	require.Len(t, doc.Libs, 1)
	assert.Equal(t, DocLib{
		Name: "app", Path: "/bin/app", DebugName: "app", DebugPath: "/bin/app",
		Arch: doc.Libs[0].Arch, Start: 0x400000, End: 0x401000, Offset: 0x1000,
	}, doc.Libs[0])

	require.Len(t, doc.Threads, 2)
	main := doc.Threads[0]
	assert.Equal(t, "app", main.Name)
	assert.Equal(t, "app", main.ProcessName)
	assert.Equal(t, uint32(42), main.PID)
	assert.Equal(t, uint64(42), main.TID)
	assert.Nil(t, main.UnregisterTime)
	assert.Equal(t, []string{"0x400020", "0x400010"}, main.StringTable)
	assert.Equal(t, []FrameRow{
		{Location: 0, Category: categoryNative},
		{Location: 1, Category: categoryNative},
	}, main.FrameTable.Data)
	assert.Equal(t, []StackRow{{Prefix: -1, Frame: 0}, {Prefix: 0, Frame: 1}},
		main.StackTable.Data)
	assert.Equal(t, []SampleRow{{Stack: 1, Time: 2}, {Stack: 1, Time: 4}},
		main.Samples.Data)

	worker := doc.Threads[1]
	assert.Equal(t, "Thread 43", worker.Name)
	assert.InDelta(t, 4.0, worker.RegisterTime, 1e-9)
	require.NotNil(t, worker.UnregisterTime)
	assert.InDelta(t, 8.0, *worker.UnregisterTime, 1e-9)
	assert.Equal(t, []FrameRow{{Location: 0, Category: categoryOther}}, worker.FrameTable.Data)
	assert.Equal(t, int32(-1), worker.Samples.Data[1].Stack)

	require.NoError(t, doc.Validate())
	// Rendering twice yields the same document.
	assert.Equal(t, doc, b.Document(DocumentOptions{Version: "v1.2.3"}))
}

func TestDocumentSymbolicated(t *testing.T) {
	b := testBuilder()
	sym := mapSymbolizer{0x1010: "main", 0x1020: "_start"}
	doc := b.Document(DocumentOptions{Symbolizer: sym})

	assert.True(t, doc.Meta.Presymbolicated)
	assert.Equal(t, []string{"_start", "main"}, doc.Threads[0].StringTable)
	assert.Equal(t, []string{"0x7f0000001234"}, doc.Threads[1].StringTable)
}

func TestDocumentJSON(t *testing.T) {
	doc := testBuilder().Document(DocumentOptions{})
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, doc))

	// The row encoding follows the Gecko format.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	threads := raw["threads"].([]any)
	worker := threads[1].(map[string]any)
	samples := worker["samples"].(map[string]any)
	assert.Equal(t, map[string]any{"stack": 0.0, "time": 1.0, "responsiveness": 2.0},
		samples["schema"])
	assert.Equal(t, []any{nil, 6.0, 0.0}, samples["data"].([]any)[1])
	stackTable := threads[0].(map[string]any)["stackTable"].(map[string]any)
	assert.Equal(t, []any{nil, 0.0}, stackTable["data"].([]any)[0])
	frameTable := threads[0].(map[string]any)["frameTable"].(map[string]any)
	assert.Equal(t, []any{0.0, false, 0.0, nil, nil, nil, nil, 1.0},
		frameTable["data"].([]any)[0])
	assert.Nil(t, threads[0].(map[string]any)["unregisterTime"])

	back, err := ReadDocument(&buf)
	require.NoError(t, err)
	assert.Equal(t, doc, back)
}

func TestEmptyDocumentIsValid(t *testing.T) {
	b := NewBuilder(t0, time.Millisecond)
	b.AddProcess(ProcessInfo{PID: 1, Command: "true", StartTime: t0})
	doc := b.Document(DocumentOptions{})

	assert.Equal(t, "true", doc.Meta.Product)
	assert.Empty(t, doc.Threads)
	require.NoError(t, doc.Validate())

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, doc))
	assert.Contains(t, buf.String(), `"threads":[]`)
	assert.Contains(t, buf.String(), `"libs":[]`)
	_, err := ReadDocument(&buf)
	require.NoError(t, err)
}

func TestReadDocumentRejects(t *testing.T) {
	tests := map[string]string{
		"empty":       "",
		"not json":    "hello",
		"no version":  `{"meta":{"interval":1},"threads":[]}`,
		"no interval": `{"meta":{"version":24},"threads":[]}`,
		"dangling frame": `{"meta":{"version":24,"interval":1},"threads":[{"name":"t",
			"stackTable":{"data":[[null,3]]},"frameTable":{"data":[]},"stringTable":[]}]}`,
		"forward prefix": `{"meta":{"version":24,"interval":1},"threads":[{"name":"t",
			"stackTable":{"data":[[1,0],[null,0]]},"frameTable":{"data":[[0]]},
			"stringTable":["a"]}]}`,
		"time travel": `{"meta":{"version":24,"interval":1},"threads":[{"name":"t",
			"samples":{"data":[[null,2,0],[null,1,0]]}}]}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadDocument(strings.NewReader(input))
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

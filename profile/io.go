// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profile // import "github.com/perfrecord/perfrecord/profile"

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Format selects the output representation.
type Format string

const (
	FormatGecko     Format = "gecko"
	FormatPprof     Format = "pprof"
	FormatCollapsed Format = "collapsed"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ParseFormat validates a format name. The empty name selects the format
// from the output path, see FormatForPath.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case FormatGecko, FormatPprof, FormatCollapsed:
		return f, nil
	case "json", "firefox":
		return FormatGecko, nil
	case "folded":
		return FormatCollapsed, nil
	}
	return "", fmt.Errorf("unknown output format %q", name)
}

// FormatForPath infers the format from the extension of path.
func FormatForPath(path string) Format {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, ".gz")
	switch filepath.Ext(base) {
	case ".pb", ".pprof", ".prof":
		return FormatPprof
	case ".folded", ".collapsed", ".txt":
		return FormatCollapsed
	}
	return FormatGecko
}

// WriteJSON encodes doc to w.
func WriteJSON(w io.Writer, doc *Document) error {
	return json.NewEncoder(w).Encode(doc)
}

// Write encodes the profile in format to w.
func (b *Builder) Write(w io.Writer, format Format, opts DocumentOptions) error {
	switch format {
	case FormatGecko, "":
		return WriteJSON(w, b.Document(opts))
	case FormatPprof:
		// Profile.Write compresses on its own.
		return b.Pprof(opts).Write(w)
	case FormatCollapsed:
		return b.WriteCollapsed(w, opts)
	}
	return fmt.Errorf("unknown output format %q", format)
}

// WriteFile creates or truncates path and writes the profile to it. Paths
// ending in .gz are gzip compressed.
func (b *Builder) WriteFile(path string, format Format, opts DocumentOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") && format != FormatPprof {
		zw = gzip.NewWriter(bw)
		w = zw
	}
	if err = b.Write(w, format, opts); err != nil {
		return err
	}
	if zw != nil {
		if err = zw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadDocument decodes and validates a Gecko document, gzip compressed or not.
func ReadDocument(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	} else {
		r = br
	}

	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ReadFile reads a document written by WriteFile.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDocument(f)
}

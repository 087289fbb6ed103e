// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/perfrecord/perfrecord/process"

import (
	"bufio"
	"debug/elf"
	"io"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

func trimMappingPath(path string) string {
	// Trim the deleted indication from the path.
	// See path_with_deleted in linux/fs/d_path.c
	path = strings.TrimSuffix(path, " (deleted)")
	if path == "/dev/zero" {
		// Some JIT engines map JIT area from /dev/zero
		// make it anonymous.
		return ""
	}
	return path
}

// parseMappings parses the /proc/PID/maps format. The second return value
// counts the lines that could not be parsed.
func parseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	numParseErrors := uint32(0)
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanner.Buffer(make([]byte, 0, 8192), 64*1024)
	for scanner.Scan() {
		// address perms offset dev inode pathname
		fields := strings.SplitN(scanner.Text(), " ", 6)
		if len(fields) < 5 {
			numParseErrors++
			continue
		}
		start, end, ok := strings.Cut(fields[0], "-")
		if !ok {
			numParseErrors++
			continue
		}

		mapsFlags := fields[1]
		if len(mapsFlags) < 3 {
			numParseErrors++
			continue
		}
		flags := elf.ProgFlag(0)
		if mapsFlags[0] == 'r' {
			flags |= elf.PF_R
		}
		if mapsFlags[1] == 'w' {
			flags |= elf.PF_W
		}
		if mapsFlags[2] == 'x' {
			flags |= elf.PF_X
		}

		// Ignore non-readable and non-executable mappings
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}

		var path string
		if len(fields) == 6 {
			path = trimMappingPath(strings.TrimLeft(fields[5], " "))
		}

		vaddr, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			log.Debugf("vaddr: failed to convert %s to uint64: %v", start, err)
			numParseErrors++
			continue
		}
		vend, err := strconv.ParseUint(end, 16, 64)
		if err != nil || vend < vaddr {
			log.Debugf("vend: failed to convert %s to uint64: %v", end, err)
			numParseErrors++
			continue
		}
		fileOffset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			log.Debugf("fileOffset: failed to convert %s to uint64: %v", fields[2], err)
			numParseErrors++
			continue
		}

		mappings = append(mappings, Mapping{
			Vaddr:      vaddr,
			Length:     vend - vaddr,
			Flags:      flags,
			FileOffset: fileOffset,
			Path:       path,
		})
	}
	return mappings, numParseErrors, scanner.Err()
}

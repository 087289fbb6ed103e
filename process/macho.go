// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/perfrecord/perfrecord/process"

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/remotememory"
)

const (
	machHeader64Size = 32
	// segmentCommand64Size is sizeof(struct segment_command_64).
	segmentCommand64Size = 72
	maxLoadCommandsSize  = 1 << 20

	vmProtRead    = 0x1
	vmProtWrite   = 0x2
	vmProtExecute = 0x4
)

var errNotMachO64 = errors.New("not a 64-bit Mach-O image")

func protToFlags(prot uint32) elf.ProgFlag {
	flags := elf.ProgFlag(0)
	if prot&vmProtRead != 0 {
		flags |= elf.PF_R
	}
	if prot&vmProtWrite != 0 {
		flags |= elf.PF_W
	}
	if prot&vmProtExecute != 0 {
		flags |= elf.PF_X
	}
	return flags
}

// machoSegments reads the Mach-O header of an image loaded at loadAddr from
// the target memory and returns one mapping per segment, relocated by the
// image slide.
func machoSegments(rm remotememory.RemoteMemory, loadAddr uint64, path string) ([]Mapping, error) {
	var hdr [machHeader64Size]byte
	if err := rm.Read(libpf.Address(loadAddr), hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read Mach-O header at 0x%x: %w", loadAddr, err)
	}
	if macho.Magic64 != binary.LittleEndian.Uint32(hdr[0:]) {
		return nil, errNotMachO64
	}
	ncmds := binary.LittleEndian.Uint32(hdr[16:])
	sizeofcmds := binary.LittleEndian.Uint32(hdr[20:])
	if sizeofcmds > maxLoadCommandsSize {
		return nil, fmt.Errorf("load commands too large: %d", sizeofcmds)
	}
	cmds := make([]byte, sizeofcmds)
	if err := rm.Read(libpf.Address(loadAddr+machHeader64Size), cmds); err != nil {
		return nil, fmt.Errorf("failed to read load commands at 0x%x: %w", loadAddr, err)
	}

	type segment struct {
		name              string
		vmaddr, vmsize    uint64
		fileoff           uint64
		initprot, maxprot uint32
	}
	var segments []segment
	slide := uint64(0)
	haveText := false
	for i, off := uint32(0), uint32(0); i < ncmds; i++ {
		if off+8 > uint32(len(cmds)) {
			return nil, fmt.Errorf("truncated load command %d", i)
		}
		cmd := binary.LittleEndian.Uint32(cmds[off:])
		size := binary.LittleEndian.Uint32(cmds[off+4:])
		if size < 8 || off+size > uint32(len(cmds)) {
			return nil, fmt.Errorf("invalid load command %d size %d", i, size)
		}
		if macho.LoadCmd(cmd) == macho.LoadCmdSegment64 && size >= segmentCommand64Size {
			c := cmds[off : off+size]
			seg := segment{
				name:     string(bytes.TrimRight(c[8:24], "\x00")),
				vmaddr:   binary.LittleEndian.Uint64(c[24:]),
				vmsize:   binary.LittleEndian.Uint64(c[32:]),
				fileoff:  binary.LittleEndian.Uint64(c[40:]),
				maxprot:  binary.LittleEndian.Uint32(c[56:]),
				initprot: binary.LittleEndian.Uint32(c[60:]),
			}
			if seg.name == "__TEXT" {
				slide = loadAddr - seg.vmaddr
				haveText = true
			}
			segments = append(segments, seg)
		}
		off += size
	}
	if !haveText {
		return nil, fmt.Errorf("no __TEXT segment in %s", path)
	}

	mappings := make([]Mapping, 0, len(segments))
	for _, seg := range segments {
		// __PAGEZERO and friends reserve address space only.
		if seg.initprot == 0 && seg.maxprot == 0 {
			continue
		}
		mappings = append(mappings, Mapping{
			Vaddr:      seg.vmaddr + slide,
			Length:     seg.vmsize,
			Flags:      protToFlags(seg.initprot),
			FileOffset: seg.fileoff,
			Path:       path,
			Bias:       slide,
		})
	}
	return mappings, nil
}

// dyldImage is an entry of the dyld image list.
type dyldImage struct {
	loadAddr uint64
	path     string
}

// Offsets into struct dyld_all_image_infos.
const (
	dyldInfoArrayCountOffset   = 4
	dyldInfoArrayOffset        = 8
	dyldImageLoadAddressOffset = 32
	dyldImageInfoSize          = 24
	maxDyldImages              = 1 << 16
	dyldPath                   = "/usr/lib/dyld"
)

// dyldImages walks the image list of dyld_all_image_infos at infosAddr. The
// dynamic loader itself is reported first.
func dyldImages(rm remotememory.RemoteMemory, infosAddr uint64) ([]dyldImage, error) {
	base := libpf.Address(infosAddr)
	count, err := rm.Uint32Checked(base + dyldInfoArrayCountOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to read dyld image count: %w", err)
	}
	if count > maxDyldImages {
		return nil, fmt.Errorf("implausible dyld image count %d", count)
	}
	var images []dyldImage
	if dyld := uint64(rm.Ptr(base + dyldImageLoadAddressOffset)); dyld != 0 {
		images = append(images, dyldImage{loadAddr: dyld, path: dyldPath})
	}
	infoArray := rm.Ptr(base + dyldInfoArrayOffset)
	if infoArray == 0 {
		// dyld is still initializing the list.
		return images, nil
	}
	buf := make([]byte, int(count)*dyldImageInfoSize)
	if err := rm.Read(infoArray, buf); err != nil {
		return nil, fmt.Errorf("failed to read dyld image list: %w", err)
	}
	for i := 0; i < int(count); i++ {
		entry := buf[i*dyldImageInfoSize:]
		loadAddr := binary.LittleEndian.Uint64(entry[0:])
		pathAddr := binary.LittleEndian.Uint64(entry[8:])
		if loadAddr == 0 {
			continue
		}
		images = append(images, dyldImage{
			loadAddr: loadAddr,
			path:     rm.String(libpf.Address(pathAddr)),
		})
	}
	return images, nil
}

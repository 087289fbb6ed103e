// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "github.com/perfrecord/perfrecord/kernel"

import "encoding/binary"

const (
	elfNTPRStatus = 1
	// prStatusSize is sizeof(struct user_pt_regs): x0-x30, sp, pc, pstate.
	prStatusSize = 34 * 8

	elfNTARMPACMask = 0x406
)

func decodeRegisters(regs []byte) Registers {
	return Registers{
		FP: binary.LittleEndian.Uint64(regs[29*8:]),
		LR: binary.LittleEndian.Uint64(regs[30*8:]),
		SP: binary.LittleEndian.Uint64(regs[31*8:]),
		PC: binary.LittleEndian.Uint64(regs[32*8:]),
	}
}

// readCodePACMask reads the instruction pointer authentication mask, which
// is zero on kernels or CPUs without pointer authentication.
func readCodePACMask(tid int) uint64 {
	// struct user_pac_mask: data_mask followed by insn_mask.
	var buf [16]byte
	if err := ptraceGetRegset(tid, elfNTARMPACMask, buf[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[8:])
}

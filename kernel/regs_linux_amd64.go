// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "github.com/perfrecord/perfrecord/kernel"

import "encoding/binary"

const (
	elfNTPRStatus = 1
	// prStatusSize is sizeof(struct user_regs_struct).
	prStatusSize = 27 * 8
)

// Offsets into struct user_regs_struct.
const (
	regRBP = 4
	regRIP = 16
	regRSP = 19
)

func decodeRegisters(regs []byte) Registers {
	return Registers{
		PC: binary.LittleEndian.Uint64(regs[regRIP*8:]),
		SP: binary.LittleEndian.Uint64(regs[regRSP*8:]),
		FP: binary.LittleEndian.Uint64(regs[regRBP*8:]),
	}
}

func readCodePACMask(int) uint64 {
	return 0
}

// Package cpu implements the Sharp LR35902/SM83 instruction core.
package cpu

import "log"

// Bus is the memory-mapped interface the CPU executes against. The CPU
// holds no reference to a concrete bus between steps; one is passed into
// every Step call so the core has no hidden coupling to any particular
// memory implementation.
type Bus interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)
}

// CPU holds SM83 register and control state only; it owns no bus.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	IME    bool
	halted bool
	// eiPending delays IME becoming true until after the instruction
	// following EI has executed.
	eiPending bool
	// haltBug marks that the next fetch must not advance PC, reproducing
	// the PC-freeze glitch when HALT executes with IME clear and an
	// interrupt already pending.
	haltBug bool
}

// New creates a CPU with PC/SP at their power-on defaults. Callers that
// don't install a boot ROM should call ResetNoBoot to reach the typical
// post-boot register state instead.
func New() *CPU {
	return &CPU{SP: 0xFFFE, PC: 0x0000}
}

// SetPC allows tests or a boot stub to set the program counter directly.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// ResetNoBoot sets registers to typical DMG post-boot state, for running
// a cartridge without a boot ROM.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.IME = false
	c.halted = false
	c.eiPending = false
	c.haltBug = false
}

// Halted reports whether the core is in the HALT low-power state.
func (c *CPU) Halted() bool { return c.halted }

const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

func (c *CPU) setZNHC(z, n, h, carry bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if carry {
		f |= flagC
	}
	c.F = f
}

func (c *CPU) add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	z = res == 0
	n = false
	h = ((a & 0x0F) + (b & 0x0F)) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	z = res == 0
	n = false
	h = ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < (b & 0x0F)
	cy = int16(a) < int16(b)
	return
}

func (c *CPU) sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < ((b & 0x0F) + ci)
	cy = int16(a) < int16(b)+int16(ci)
	return
}

func (c *CPU) and8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a & b
	z = res == 0
	n = false
	h = true
	cy = false
	return
}

func (c *CPU) xor8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a ^ b
	z = res == 0
	n = false
	h = false
	cy = false
	return
}

func (c *CPU) or8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a | b
	z = res == 0
	n = false
	h = false
	cy = false
	return
}

func (c *CPU) cp8(a, b byte) (z, n, h, cy bool) {
	_, z, n, h, cy = c.sub8(a, b)
	return
}

func (c *CPU) fetch8(b Bus) byte {
	v := b.Read(c.PC)
	if c.haltBug {
		c.haltBug = false
		return v
	}
	c.PC++
	return v
}

func (c *CPU) fetch16(b Bus) uint16 {
	lo := uint16(c.fetch8(b))
	hi := uint16(c.fetch8(b))
	return lo | (hi << 8)
}

func (c *CPU) read16(b Bus, addr uint16) uint16 {
	lo := uint16(b.Read(addr))
	hi := uint16(b.Read(addr + 1))
	return lo | (hi << 8)
}

func (c *CPU) write16(b Bus, addr uint16, v uint16) {
	b.Write(addr, byte(v&0x00FF))
	b.Write(addr+1, byte(v>>8))
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

func (c *CPU) push16(b Bus, v uint16) {
	c.SP -= 2
	c.write16(b, c.SP, v)
}

func (c *CPU) pop16(b Bus) uint16 {
	v := c.read16(b, c.SP)
	c.SP += 2
	return v
}

// pendingInterrupt returns the lowest-numbered set bit common to IE and
// IF (masked to the 5 real interrupt lines), or -1 if none is pending.
func pendingInterrupt(b Bus) int {
	ie := b.Read(0xFFFF)
	ifr := b.Read(0xFF0F) & 0x1F
	pending := ie & ifr
	if pending == 0 {
		return -1
	}
	for bit := 0; bit < 5; bit++ {
		if pending&(1<<uint(bit)) != 0 {
			return bit
		}
	}
	return -1
}

func (c *CPU) serviceInterrupt(b Bus, bit int) int {
	ifr := b.Read(0xFF0F) & 0x1F
	b.Write(0xFF0F, (ifr &^ (1 << uint(bit))) & 0x1F)
	c.halted = false
	c.IME = false
	c.push16(b, c.PC)
	c.PC = 0x40 + uint16(bit)*8
	return 20
}

// Step executes exactly one instruction (or services one pending
// interrupt, or idles one HALT tick) against the given bus, and returns
// the number of T-cycles consumed.
func (c *CPU) Step(b Bus) (cycles int) {
	enableIME := c.eiPending
	defer func() {
		if enableIME && c.eiPending {
			c.IME = true
			c.eiPending = false
		}
	}()

	if c.halted {
		if bit := pendingInterrupt(b); bit >= 0 {
			if c.IME {
				return c.serviceInterrupt(b, bit)
			}
			c.halted = false
		} else {
			return 4
		}
	}

	if c.IME {
		if bit := pendingInterrupt(b); bit >= 0 {
			return c.serviceInterrupt(b, bit)
		}
	}

	op := c.fetch8(b)
	switch op {
	case 0x00: // NOP
		return 4
	case 0x10: // STOP
		c.fetch8(b) // STOP is followed by a padding byte
		return 4

	// LD r, d8
	case 0x06:
		c.B = c.fetch8(b)
		return 8
	case 0x0E:
		c.C = c.fetch8(b)
		return 8
	case 0x16:
		c.D = c.fetch8(b)
		return 8
	case 0x1E:
		c.E = c.fetch8(b)
		return 8
	case 0x26:
		c.H = c.fetch8(b)
		return 8
	case 0x2E:
		c.L = c.fetch8(b)
		return 8
	case 0x3E:
		c.A = c.fetch8(b)
		return 8

	// LD r,r' and LD (HL),r / LD r,(HL)
	case 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x47,
		0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4F,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x57,
		0x58, 0x59, 0x5A, 0x5B, 0x5C, 0x5D, 0x5F,
		0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x67,
		0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6F,
		0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x77,
		0x78, 0x79, 0x7A, 0x7B, 0x7C, 0x7D, 0x7F:
		if op == 0x76 { // HALT handled elsewhere
			break
		}
		d := (op >> 3) & 7
		s := op & 7
		val := c.getReg(b, byte(s))
		c.setReg(b, byte(d), val)
		if d == 6 || s == 6 {
			return 8
		}
		return 4

	// 16-bit loads
	case 0x01:
		c.setBC(c.fetch16(b))
		return 12
	case 0x11:
		c.setDE(c.fetch16(b))
		return 12
	case 0x21:
		c.setHL(c.fetch16(b))
		return 12
	case 0x31:
		c.SP = c.fetch16(b)
		return 12
	case 0x08: // LD (a16),SP
		addr := c.fetch16(b)
		c.write16(b, addr, c.SP)
		return 20

	case 0x36: // LD (HL), d8
		v := c.fetch8(b)
		b.Write(c.getHL(), v)
		return 12

	case 0x02:
		b.Write(c.getBC(), c.A)
		return 8
	case 0x12:
		b.Write(c.getDE(), c.A)
		return 8
	case 0x0A:
		c.A = b.Read(c.getBC())
		return 8
	case 0x1A:
		c.A = b.Read(c.getDE())
		return 8

	case 0x22: // LD (HL+),A
		hl := c.getHL()
		b.Write(hl, c.A)
		c.setHL(hl + 1)
		return 8
	case 0x2A: // LD A,(HL+)
		hl := c.getHL()
		c.A = b.Read(hl)
		c.setHL(hl + 1)
		return 8
	case 0x32: // LD (HL-),A
		hl := c.getHL()
		b.Write(hl, c.A)
		c.setHL(hl - 1)
		return 8
	case 0x3A: // LD A,(HL-)
		hl := c.getHL()
		c.A = b.Read(hl)
		c.setHL(hl - 1)
		return 8

	case 0xE0: // LDH (FF00+n),A
		n := uint16(c.fetch8(b))
		b.Write(0xFF00+n, c.A)
		return 12
	case 0xF0: // LDH A,(FF00+n)
		n := uint16(c.fetch8(b))
		c.A = b.Read(0xFF00 + n)
		return 12
	case 0xE2:
		b.Write(0xFF00+uint16(c.C), c.A)
		return 8
	case 0xF2:
		c.A = b.Read(0xFF00 + uint16(c.C))
		return 8

	case 0x07: // RLCA
		cval := (c.A >> 7) & 1
		c.A = (c.A << 1) | cval
		c.setZNHC(false, false, false, cval == 1)
		return 4
	case 0x0F: // RRCA
		cval := c.A & 1
		c.A = (c.A >> 1) | (cval << 7)
		c.setZNHC(false, false, false, cval == 1)
		return 4
	case 0x17: // RLA
		cval := (c.A >> 7) & 1
		carry := byte(0)
		if (c.F & flagC) != 0 {
			carry = 1
		}
		c.A = (c.A << 1) | carry
		c.setZNHC(false, false, false, cval == 1)
		return 4
	case 0x1F: // RRA
		cval := c.A & 1
		carry := byte(0)
		if (c.F & flagC) != 0 {
			carry = 1
		}
		c.A = (c.A >> 1) | (carry << 7)
		c.setZNHC(false, false, false, cval == 1)
		return 4
	case 0x27: // DAA
		a := c.A
		cf := (c.F & flagC) != 0
		hf := (c.F & flagH) != 0
		nf := (c.F & flagN) != 0
		if !nf {
			if cf || a > 0x99 {
				a += 0x60
				cf = true
			}
			if hf || (a&0x0F) > 9 {
				a += 0x06
			}
		} else {
			if cf {
				a -= 0x60
			}
			if hf {
				a -= 0x06
			}
		}
		c.A = a
		c.setZNHC(c.A == 0, nf, false, cf)
		return 4
	case 0x2F: // CPL
		c.A = ^c.A
		c.F = (c.F & (flagZ | flagC)) | flagN | flagH
		return 4
	case 0x37: // SCF
		c.F = (c.F & flagZ) | flagC
		return 4
	case 0x3F: // CCF
		c.F = (c.F & (flagZ | flagC)) ^ flagC
		return 4

	case 0x04:
		c.incReg(&c.B)
		return 4
	case 0x0C:
		c.incReg(&c.C)
		return 4
	case 0x14:
		c.incReg(&c.D)
		return 4
	case 0x1C:
		c.incReg(&c.E)
		return 4
	case 0x24:
		c.incReg(&c.H)
		return 4
	case 0x2C:
		c.incReg(&c.L)
		return 4
	case 0x3C:
		c.incReg(&c.A)
		return 4
	case 0x34: // INC (HL)
		addr := c.getHL()
		v := b.Read(addr)
		old := v
		v++
		b.Write(addr, v)
		c.setZNHC(v == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
		return 12

	case 0x05:
		c.decReg(&c.B)
		return 4
	case 0x0D:
		c.decReg(&c.C)
		return 4
	case 0x15:
		c.decReg(&c.D)
		return 4
	case 0x1D:
		c.decReg(&c.E)
		return 4
	case 0x25:
		c.decReg(&c.H)
		return 4
	case 0x2D:
		c.decReg(&c.L)
		return 4
	case 0x3D:
		c.decReg(&c.A)
		return 4
	case 0x35: // DEC (HL)
		addr := c.getHL()
		v := b.Read(addr)
		old := v
		v--
		b.Write(addr, v)
		c.setZNHC(v == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
		return 12

	// ALU A,r (register source)
	case 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x87:
		r, z, n, h, cy := c.add8(c.A, c.regByIndex(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4
	case 0x88, 0x89, 0x8A, 0x8B, 0x8C, 0x8D, 0x8F:
		r, z, n, h, cy := c.adc8(c.A, c.regByIndex(op&7), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4
	case 0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x97:
		r, z, n, h, cy := c.sub8(c.A, c.regByIndex(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4
	case 0x98, 0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9F:
		r, z, n, h, cy := c.sbc8(c.A, c.regByIndex(op&7), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4
	case 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA7:
		r, z, n, h, cy := c.and8(c.A, c.regByIndex(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4
	case 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAF:
		r, z, n, h, cy := c.xor8(c.A, c.regByIndex(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4
	case 0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB7:
		r, z, n, h, cy := c.or8(c.A, c.regByIndex(op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 4
	case 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBF:
		z, n, h, cy := c.cp8(c.A, c.regByIndex(op&7))
		c.setZNHC(z, n, h, cy)
		return 4

	// ALU A,(HL)
	case 0x86:
		r, z, n, h, cy := c.add8(c.A, b.Read(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0x8E:
		r, z, n, h, cy := c.adc8(c.A, b.Read(c.getHL()), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0x96:
		r, z, n, h, cy := c.sub8(c.A, b.Read(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0x9E:
		r, z, n, h, cy := c.sbc8(c.A, b.Read(c.getHL()), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xA6:
		r, z, n, h, cy := c.and8(c.A, b.Read(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xAE:
		r, z, n, h, cy := c.xor8(c.A, b.Read(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xB6:
		r, z, n, h, cy := c.or8(c.A, b.Read(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xBE:
		z, n, h, cy := c.cp8(c.A, b.Read(c.getHL()))
		c.setZNHC(z, n, h, cy)
		return 8

	// ALU A,d8
	case 0xC6:
		r, z, n, h, cy := c.add8(c.A, c.fetch8(b))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xCE:
		r, z, n, h, cy := c.adc8(c.A, c.fetch8(b), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xD6:
		r, z, n, h, cy := c.sub8(c.A, c.fetch8(b))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xDE:
		r, z, n, h, cy := c.sbc8(c.A, c.fetch8(b), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xE6:
		r, z, n, h, cy := c.and8(c.A, c.fetch8(b))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xEE:
		r, z, n, h, cy := c.xor8(c.A, c.fetch8(b))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xF6:
		r, z, n, h, cy := c.or8(c.A, c.fetch8(b))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8
	case 0xFE:
		z, n, h, cy := c.cp8(c.A, c.fetch8(b))
		c.setZNHC(z, n, h, cy)
		return 8

	case 0xEA: // LD (a16),A
		addr := c.fetch16(b)
		b.Write(addr, c.A)
		return 16
	case 0xFA: // LD A,(a16)
		addr := c.fetch16(b)
		c.A = b.Read(addr)
		return 16

	case 0xC3: // JP a16
		c.PC = c.fetch16(b)
		return 16
	case 0xE9: // JP (HL)
		c.PC = c.getHL()
		return 4
	case 0x18: // JR r8
		off := int8(c.fetch8(b))
		c.PC = uint16(int32(c.PC) + int32(off))
		return 12

	case 0x20: // JR NZ
		off := int8(c.fetch8(b))
		if (c.F & flagZ) == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12
		}
		return 8
	case 0x28: // JR Z
		off := int8(c.fetch8(b))
		if (c.F & flagZ) != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12
		}
		return 8
	case 0x30: // JR NC
		off := int8(c.fetch8(b))
		if (c.F & flagC) == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12
		}
		return 8
	case 0x38: // JR C
		off := int8(c.fetch8(b))
		if (c.F & flagC) != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12
		}
		return 8

	case 0xCD: // CALL a16
		addr := c.fetch16(b)
		c.push16(b, c.PC)
		c.PC = addr
		return 24
	case 0xC9: // RET
		c.PC = c.pop16(b)
		return 16
	case 0xD9: // RETI
		c.PC = c.pop16(b)
		c.IME = true
		return 16

	case 0xC7:
		c.push16(b, c.PC)
		c.PC = 0x00
		return 16
	case 0xCF:
		c.push16(b, c.PC)
		c.PC = 0x08
		return 16
	case 0xD7:
		c.push16(b, c.PC)
		c.PC = 0x10
		return 16
	case 0xDF:
		c.push16(b, c.PC)
		c.PC = 0x18
		return 16
	case 0xE7:
		c.push16(b, c.PC)
		c.PC = 0x20
		return 16
	case 0xEF:
		c.push16(b, c.PC)
		c.PC = 0x28
		return 16
	case 0xF7:
		c.push16(b, c.PC)
		c.PC = 0x30
		return 16
	case 0xFF:
		c.push16(b, c.PC)
		c.PC = 0x38
		return 16

	case 0xC4: // CALL NZ
		addr := c.fetch16(b)
		if (c.F & flagZ) == 0 {
			c.push16(b, c.PC)
			c.PC = addr
			return 24
		}
		return 12
	case 0xCC: // CALL Z
		addr := c.fetch16(b)
		if (c.F & flagZ) != 0 {
			c.push16(b, c.PC)
			c.PC = addr
			return 24
		}
		return 12
	case 0xD4: // CALL NC
		addr := c.fetch16(b)
		if (c.F & flagC) == 0 {
			c.push16(b, c.PC)
			c.PC = addr
			return 24
		}
		return 12
	case 0xDC: // CALL C
		addr := c.fetch16(b)
		if (c.F & flagC) != 0 {
			c.push16(b, c.PC)
			c.PC = addr
			return 24
		}
		return 12

	case 0xC0:
		if (c.F & flagZ) == 0 {
			c.PC = c.pop16(b)
			return 20
		}
		return 8
	case 0xC8:
		if (c.F & flagZ) != 0 {
			c.PC = c.pop16(b)
			return 20
		}
		return 8
	case 0xD0:
		if (c.F & flagC) == 0 {
			c.PC = c.pop16(b)
			return 20
		}
		return 8
	case 0xD8:
		if (c.F & flagC) != 0 {
			c.PC = c.pop16(b)
			return 20
		}
		return 8

	case 0xC2:
		addr := c.fetch16(b)
		if (c.F & flagZ) == 0 {
			c.PC = addr
			return 16
		}
		return 12
	case 0xCA:
		addr := c.fetch16(b)
		if (c.F & flagZ) != 0 {
			c.PC = addr
			return 16
		}
		return 12
	case 0xD2:
		addr := c.fetch16(b)
		if (c.F & flagC) == 0 {
			c.PC = addr
			return 16
		}
		return 12
	case 0xDA:
		addr := c.fetch16(b)
		if (c.F & flagC) != 0 {
			c.PC = addr
			return 16
		}
		return 12

	case 0x03:
		c.setBC(c.getBC() + 1)
		return 8
	case 0x13:
		c.setDE(c.getDE() + 1)
		return 8
	case 0x23:
		c.setHL(c.getHL() + 1)
		return 8
	case 0x33:
		c.SP++
		return 8
	case 0x0B:
		c.setBC(c.getBC() - 1)
		return 8
	case 0x1B:
		c.setDE(c.getDE() - 1)
		return 8
	case 0x2B:
		c.setHL(c.getHL() - 1)
		return 8
	case 0x3B:
		c.SP--
		return 8
	case 0x09: // ADD HL,BC
		c.addHL(c.getBC())
		return 8
	case 0x19: // ADD HL,DE
		c.addHL(c.getDE())
		return 8
	case 0x29: // ADD HL,HL
		c.addHL(c.getHL())
		return 8
	case 0x39: // ADD HL,SP
		c.addHL(c.SP)
		return 8

	case 0xF8: // LD HL,SP+r8
		off := int8(c.fetch8(b))
		res := uint16(int32(int16(c.SP)) + int32(off))
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.setHL(res)
		c.setZNHC(false, false, h, cy)
		return 12
	case 0xF9: // LD SP,HL
		c.SP = c.getHL()
		return 8
	case 0xE8: // ADD SP,r8
		off := int8(c.fetch8(b))
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.SP = uint16(int32(int16(c.SP)) + int32(off))
		c.setZNHC(false, false, h, cy)
		return 16

	case 0xF3: // DI
		c.IME = false
		c.eiPending = false
		return 4
	case 0xFB: // EI
		c.eiPending = true
		return 4

	case 0xCB:
		return c.stepCB(b)

	case 0xF5:
		c.push16(b, c.getAF())
		return 16
	case 0xC5:
		c.push16(b, c.getBC())
		return 16
	case 0xD5:
		c.push16(b, c.getDE())
		return 16
	case 0xE5:
		c.push16(b, c.getHL())
		return 16
	case 0xF1:
		c.setAF(c.pop16(b))
		return 12
	case 0xC1:
		c.setBC(c.pop16(b))
		return 12
	case 0xD1:
		c.setDE(c.pop16(b))
		return 12
	case 0xE1:
		c.setHL(c.pop16(b))
		return 12
	}

	if op == 0x76 { // HALT
		if !c.IME && pendingInterrupt(b) >= 0 {
			c.haltBug = true
		} else {
			c.halted = true
		}
		return 4
	}

	// Unimplemented opcode: log a warning and behave as a 4-cycle NOP.
	log.Printf("warn: unimplemented opcode %02X at %04X", op, c.PC-1)
	return 4
}

func (c *CPU) addHL(rhs uint16) {
	hl := c.getHL()
	r := uint32(hl) + uint32(rhs)
	h := ((hl & 0x0FFF) + (rhs & 0x0FFF)) > 0x0FFF
	c.setHL(uint16(r))
	c.setZNHC((c.F&flagZ) != 0, false, h, r > 0xFFFF)
}

func (c *CPU) incReg(r *byte) {
	old := *r
	*r++
	c.setZNHC(*r == 0, false, (old&0x0F) == 0x0F, (c.F&flagC) != 0)
}

func (c *CPU) decReg(r *byte) {
	old := *r
	*r--
	c.setZNHC(*r == 0, true, (old&0x0F) == 0x00, (c.F&flagC) != 0)
}

func (c *CPU) regByIndex(idx byte) byte {
	switch idx & 7 {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 7:
		return c.A
	}
	return 0
}

func (c *CPU) getReg(b Bus, idx byte) byte {
	if idx == 6 {
		return b.Read(c.getHL())
	}
	return c.regByIndex(idx)
}

func (c *CPU) setReg(b Bus, idx byte, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		b.Write(c.getHL(), v)
	case 7:
		c.A = v
	}
}

func (c *CPU) stepCB(b Bus) int {
	cb := c.fetch8(b)
	reg := cb & 7
	opg := (cb >> 6) & 3
	y := (cb >> 3) & 7

	cycles := 8
	if reg == 6 {
		cycles = 16
		if opg == 1 { // BIT b,(HL) reads but never writes back
			cycles = 12
		}
	}

	switch opg {
	case 0: // rotate/shift/swap
		v := c.getReg(b, reg)
		var cflag byte
		switch y {
		case 0: // RLC
			cflag = (v >> 7) & 1
			v = (v << 1) | cflag
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 1: // RRC
			cflag = v & 1
			v = (v >> 1) | (cflag << 7)
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 2: // RL
			cflag = (v >> 7) & 1
			cin := byte(0)
			if (c.F & flagC) != 0 {
				cin = 1
			}
			v = (v << 1) | cin
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 3: // RR
			cflag = v & 1
			cin := byte(0)
			if (c.F & flagC) != 0 {
				cin = 1
			}
			v = (v >> 1) | (cin << 7)
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 4: // SLA
			cflag = (v >> 7) & 1
			v <<= 1
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 5: // SRA
			cflag = v & 1
			v = (v >> 1) | (v & 0x80)
			c.setZNHC(v == 0, false, false, cflag == 1)
		case 6: // SWAP
			v = (v << 4) | (v >> 4)
			c.setZNHC(v == 0, false, false, false)
		case 7: // SRL
			cflag = v & 1
			v >>= 1
			c.setZNHC(v == 0, false, false, cflag == 1)
		}
		c.setReg(b, reg, v)
	case 1: // BIT y, r
		v := c.getReg(b, reg)
		bit := (v >> y) & 1
		c.F = (c.F & flagC) | flagH
		if bit == 0 {
			c.F |= flagZ
		}
	case 2: // RES y, r
		v := c.getReg(b, reg)
		v &^= 1 << y
		c.setReg(b, reg, v)
	case 3: // SET y, r
		v := c.getReg(b, reg)
		v |= 1 << y
		c.setReg(b, reg, v)
	}
	return cycles
}

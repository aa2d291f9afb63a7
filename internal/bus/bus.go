// Package bus wires the CPU-visible 64 KiB address space to the
// cartridge, work/high RAM, PPU, APU, timer, joypad and serial port.
package bus

import (
	"io"

	"github.com/ziggornif/dmg-emu/internal/apu"
	"github.com/ziggornif/dmg-emu/internal/cart"
	"github.com/ziggornif/dmg-emu/internal/joypad"
	"github.com/ziggornif/dmg-emu/internal/ppu"
	"github.com/ziggornif/dmg-emu/internal/timer"
)

// Bus implements cpu.Bus plus the extra accessors the top-level
// orchestrator and host UI need (PPU/APU state, joypad input, serial
// sink, boot ROM, OAM DMA).
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU
	apu *apu.APU
	tmr *timer.Timer
	joy *joypad.Joypad

	ie    byte // 0xFFFF
	ifReg byte // 0xFF0F, lower 5 bits used

	sb byte      // 0xFF01
	sc byte      // 0xFF02
	sw io.Writer // optional serial output sink

	dma       byte // 0xFF46
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int

	bootROM     []byte
	bootEnabled bool

	vblankRaised bool
}

// New constructs a Bus around a cartridge image, picking ROM-only or an
// MBC implementation from its header via cart.NewCartridge.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation (useful for
// tests or for cartridges parsed ahead of time).
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c, tmr: timer.New(), joy: joypad.New()}
	b.ppu = ppu.New(func(bit int) {
		b.ifReg |= 1 << uint(bit)
		if bit == 0 {
			b.vblankRaised = true
		}
	})
	b.apu = apu.New(44100)
	return b
}

// PPU exposes the PPU for host-UI framebuffer access.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU exposes the APU for host-UI audio pull.
func (b *Bus) APU() *apu.APU { return b.apu }

// Cart returns the underlying cartridge, e.g. for battery-backed save
// RAM persistence.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// InterruptFlag returns the live IF register (bits 0-4 meaningful).
func (b *Bus) InterruptFlag() byte { return b.ifReg & 0x1F }

// InterruptEnable returns the live IE register.
func (b *Bus) InterruptEnable() byte { return b.ie }

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[(addr-0x2000)-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF // unusable region
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFF00:
		return b.joy.Read()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.tmr.DIV()
	case addr == 0xFF05:
		return b.tmr.TIMA()
	case addr == 0xFF06:
		return b.tmr.TMA()
	case addr == 0xFF07:
		return b.tmr.TAC()
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return 0xFF
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		b.wram[mirror-0xC000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if !b.dmaActive {
			b.ppu.CPUWrite(addr, value)
		}
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// unusable region, writes ignored
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFF00:
		if b.joy.WriteSelect(value) {
			b.ifReg |= 1 << 4
		}
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << 3
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		b.tmr.WriteDIV()
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
	case addr == 0xFF07:
		b.tmr.WriteTAC(value)
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr == 0xFFFF:
		b.ie = value
	}
}

// ConsumeVBlank reports whether the PPU raised VBlank since the last
// call, clearing the latch.
func (b *Bus) ConsumeVBlank() bool {
	v := b.vblankRaised
	b.vblankRaised = false
	return v
}

// SetJoypadState sets which buttons are currently pressed, using the
// joypad.* bit constants; set bits mean pressed.
func (b *Bus) SetJoypadState(mask byte) {
	if b.joy.SetState(mask) {
		b.ifReg |= 1 << 4
	}
}

// SetSerialWriter installs a sink that receives bytes written through
// the serial port (SB) whenever a transfer is started via SC.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a 256-byte DMG boot ROM to overlay 0x0000-0x00FF
// until a non-zero write to 0xFF50 disables it.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances timer, PPU, and APU by the given number of T-cycles,
// consuming timer and PPU interrupt requests into IF, and steps OAM DMA
// one byte per cycle while active.
func (b *Bus) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		if b.tmr.Step() {
			b.ifReg |= 1 << 2
		}
		b.ppu.Tick(1)
		b.apu.Tick(1)

		if b.dmaActive {
			if b.dmaIndex < 0xA0 {
				v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
				b.ppu.CPUWrite(0xFE00+uint16(b.dmaIndex), v)
				b.dmaIndex++
			}
			if b.dmaIndex >= 0xA0 {
				b.dmaActive = false
			}
		}
	}
}

// Package gameboy wires CPU, Bus (and through it PPU/APU/Timer/Joypad)
// into the top-level step/run-frame loop.
package gameboy

import (
	"fmt"
	"io"

	"github.com/ziggornif/dmg-emu/internal/apu"
	"github.com/ziggornif/dmg-emu/internal/bus"
	"github.com/ziggornif/dmg-emu/internal/cart"
	"github.com/ziggornif/dmg-emu/internal/cpu"
	"github.com/ziggornif/dmg-emu/internal/joypad"
)

// watchdogInstructions caps RunFrame's step count so a core that never
// raises VBlank (a runaway or badly broken ROM) can't spin forever.
const watchdogInstructions = 70000

// Config holds settings that affect emulation behavior but not its
// register-level correctness.
type Config struct {
	Trace bool // stored on the Gameboy; no component reads it, so no trace is logged
}

// Buttons is the eight-button logical input state.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.A {
		m |= joypad.A
	}
	if b.B {
		m |= joypad.B
	}
	if b.Start {
		m |= joypad.Start
	}
	if b.Select {
		m |= joypad.SelectBtn
	}
	if b.Up {
		m |= joypad.Up
	}
	if b.Down {
		m |= joypad.Down
	}
	if b.Left {
		m |= joypad.Left
	}
	if b.Right {
		m |= joypad.Right
	}
	return m
}

// Gameboy is the orchestrator binding CPU execution to Bus-driven
// PPU/APU/Timer/Joypad advancement.
type Gameboy struct {
	cfg Config
	cpu *cpu.CPU
	bus *bus.Bus
}

// New constructs a Gameboy with no cartridge loaded; call LoadROM before
// stepping.
func New(cfg Config) *Gameboy {
	return &Gameboy{cfg: cfg, cpu: cpu.New()}
}

// LoadROM wires a fresh Bus around rom and resets the CPU to the normal
// post-boot register state (PC = 0x0100, the first byte after the
// cartridge header).
func (g *Gameboy) LoadROM(rom []byte) {
	g.bus = bus.New(rom)
	g.cpu.ResetNoBoot()
	g.cpu.SetPC(0x0100)
}

// LoadROMWithBootROM is like LoadROM but overlays a 256-byte DMG boot
// ROM at 0x0000-0x00FF and starts execution at PC=0x0000, the way real
// hardware does; the boot ROM disables itself via a write to 0xFF50.
func (g *Gameboy) LoadROMWithBootROM(rom, boot []byte) {
	g.bus = bus.New(rom)
	g.bus.SetBootROM(boot)
	g.cpu.SetPC(0x0000)
}

// SetSerialWriter installs a sink for bytes written out the serial port.
func (g *Gameboy) SetSerialWriter(w io.Writer) { g.bus.SetSerialWriter(w) }

// SetButtons updates the joypad's pressed-button state.
func (g *Gameboy) SetButtons(b Buttons) { g.bus.SetJoypadState(b.mask()) }

// Framebuffer returns the current 160x144 buffer of 2-bit shade indices.
func (g *Gameboy) Framebuffer() []byte { return g.bus.PPU().Framebuffer() }

// Cart exposes the loaded cartridge, e.g. for battery-backed save RAM.
func (g *Gameboy) Cart() cart.Cartridge { return g.bus.Cart() }

// DrainAudio pulls up to max buffered stereo samples from the APU.
func (g *Gameboy) DrainAudio(max int) []apu.Sample { return g.bus.APU().PullSamples(max) }

// invalidPC reports whether pc lies outside the regions a running
// program can legitimately fetch from: OAM, the unusable region, and
// the I/O register block (including IE) are never valid code space,
// though HRAM is, since real ROMs run short routines (e.g. OAM DMA
// wait loops) from there.
func invalidPC(pc uint16) bool {
	return (pc >= 0xFE00 && pc <= 0xFF7F) || pc == 0xFFFF
}

// FatalExecutionError reports a PC that strayed into unmapped/invalid
// memory, with a CPU+PPU state dump for postmortem inspection.
type FatalExecutionError struct {
	PC                 uint16
	A, F, B, C, D, E   byte
	H, L               byte
	SP                 uint16
	IME                bool
	LCDC, STAT, LY     byte
	LYC, SCX, SCY      byte
}

func (e *FatalExecutionError) Error() string {
	flags := ""
	for _, pair := range []struct {
		bit  byte
		name string
	}{{0x80, "Z"}, {0x40, "N"}, {0x20, "H"}, {0x10, "C"}} {
		if e.F&pair.bit != 0 {
			flags += pair.name
		} else {
			flags += "-"
		}
	}
	return fmt.Sprintf(
		"fatal execution: PC=%04X outside valid memory map\n"+
			"  AF=%02X%02X BC=%02X%02X DE=%02X%02X HL=%02X%02X SP=%04X\n"+
			"  flags=%s IME=%v\n"+
			"  LCDC=%02X STAT=%02X LY=%02X LYC=%02X SCX=%02X SCY=%02X",
		e.PC, e.A, e.F, e.B, e.C, e.D, e.E, e.H, e.L, e.SP,
		flags, e.IME, e.LCDC, e.STAT, e.LY, e.LYC, e.SCX, e.SCY)
}

func (g *Gameboy) fatalDump() *FatalExecutionError {
	p := g.bus.PPU()
	return &FatalExecutionError{
		PC: g.cpu.PC,
		A: g.cpu.A, F: g.cpu.F,
		B: g.cpu.B, C: g.cpu.C,
		D: g.cpu.D, E: g.cpu.E,
		H: g.cpu.H, L: g.cpu.L,
		SP:   g.cpu.SP,
		IME:  g.cpu.IME,
		LCDC: p.LCDC(), STAT: p.STAT(), LY: p.LY(),
		LYC: p.LYC(), SCX: p.SCX(), SCY: p.SCY(),
	}
}

// Step fetches and executes one instruction, advances Timer/PPU/APU by
// the resulting cycle count, and reports whether VBlank was newly
// raised this step. It panics with a *FatalExecutionError if PC has
// strayed into unmapped memory.
func (g *Gameboy) Step() bool {
	if invalidPC(g.cpu.PC) {
		panic(g.fatalDump())
	}
	cycles := g.cpu.Step(g.bus)
	g.bus.Tick(cycles)
	return g.bus.ConsumeVBlank()
}

// RunFrame steps until VBlank is raised, or until the watchdog fires
// after watchdogInstructions steps (a stalled or runaway core).
func (g *Gameboy) RunFrame() {
	for i := 0; i < watchdogInstructions; i++ {
		if g.Step() {
			return
		}
	}
}

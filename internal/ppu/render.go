package ppu

// Sprite is a decoded OAM entry in screen coordinates (already offset by
// the hardware's -16/-8 OAM bias), as used by ComposeSpriteLine.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// LineRegs captures the registers that were in effect when a scanline
// was rendered, for tests that need to observe the window line counter
// without reaching into PPU internals.
type LineRegs struct {
	SCX, SCY   byte
	WX, WY     byte
	WinLine    byte
	WindowDrew bool
}

func (p *PPU) vramReader() VRAMReader { return rawVRAM{p} }

// rawVRAM reads VRAM bytes unconditionally, bypassing the CPU-facing
// mode-3/OAM gating in CPURead: the renderer runs inside the PPU itself
// and always needs the real tile data regardless of what a CPU access
// would see at that instant.
type rawVRAM struct{ p *PPU }

func (r rawVRAM) Read(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return r.p.vram[addr-0x8000]
	}
	return 0xFF
}

// evaluateSprites collects up to 10 sprites that intersect scanline ly,
// converting OAM's raw Y/X (biased by 16/8) into screen coordinates.
func (p *PPU) evaluateSprites(ly byte) []Sprite {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		oamY := int(p.oam[base+0]) - 16
		oamX := int(p.oam[base+1]) - 8
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		if int(ly) < oamY || int(ly) >= oamY+height {
			continue
		}
		out = append(out, Sprite{X: oamX, Y: oamY, Tile: tile, Attr: attr, OAMIndex: i})
	}
	return out
}

// ComposeSpriteLine overlays sprite pixels onto a line of background
// color indices, honoring X-priority (lower X drawn on top, ties broken
// by ascending OAM index), per-sprite X/Y flip, and the BG-priority
// attribute bit (7) that hides sprite pixels behind non-zero BG colors.
// Color index 0 is always transparent for sprites. Returns raw color
// indices (0..3) and, alongside each, which OBP register (0 or 1) the
// winning sprite at that column uses; palette application happens in
// the caller, which must read both arrays from the same winner rather
// than re-deriving ownership itself.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, size16 bool) (out [160]byte, obpSel [160]byte) {
	var drawnBy [160]*Sprite

	height := 8
	if size16 {
		height = 16
	}

	for i := range sprites {
		s := &sprites[i]
		row := int(ly) - s.Y
		if s.Attr&0x40 != 0 { // Y flip
			row = height - 1 - row
		}
		tile := s.Tile
		if size16 {
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		}
		base := uint16(0x8000) + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)

		for col := 0; col < 8; col++ {
			screenX := s.X + col
			if screenX < 0 || screenX >= 160 {
				continue
			}
			bit := col
			if s.Attr&0x20 == 0 { // no X flip: bit7 is leftmost
				bit = 7 - col
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue
			}
			cur := drawnBy[screenX]
			if cur != nil {
				if cur.X < s.X || (cur.X == s.X && cur.OAMIndex <= s.OAMIndex) {
					continue
				}
			}
			if s.Attr&0x80 != 0 && bgci[screenX] != 0 {
				// Behind BG colors 1-3, but still claims priority so a
				// lower-priority sprite can't draw over it either.
				drawnBy[screenX] = s
				continue
			}
			out[screenX] = ci
			if s.Attr&0x10 != 0 {
				obpSel[screenX] = 1
			} else {
				obpSel[screenX] = 0
			}
			drawnBy[screenX] = s
		}
	}
	return out, obpSel
}

func applyPalette(palette, colorIndex byte) byte {
	return (palette >> (colorIndex * 2)) & 0x03
}

// renderLine composites BG, window, and sprites for scanline ly into the
// framebuffer as post-palette 2-bit shades.
func (p *PPU) renderLine(ly byte) {
	if ly >= 144 {
		return
	}
	mem := p.vramReader()

	var bgci [160]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		bgci = RenderBGScanlineUsingFetcher(mem, mapBase, p.lcdc&0x10 != 0, p.scx, p.scy, ly)
	}

	windowDrew := false
	winLine := p.winLineCounter
	if p.lcdc&0x01 != 0 && p.lcdc&0x20 != 0 && p.wy <= ly {
		wxStart := int(p.wx) - 7
		if wxStart < 160 {
			winMapBase := uint16(0x9800)
			if p.lcdc&0x40 != 0 {
				winMapBase = 0x9C00
			}
			wline := RenderWindowScanlineUsingFetcher(mem, winMapBase, p.lcdc&0x10 != 0, wxStart, winLine)
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				bgci[x] = wline[x]
			}
			windowDrew = true
			p.winLineCounter++
		}
	}

	var final [160]byte
	for x := 0; x < 160; x++ {
		final[x] = applyPalette(p.bgp, bgci[x])
	}

	if p.lcdc&0x02 != 0 {
		sprites := p.evaluateSprites(ly)
		size16 := p.lcdc&0x04 != 0
		spriteLine, obpSel := ComposeSpriteLine(mem, sprites, ly, bgci, size16)
		for x := 0; x < 160; x++ {
			if spriteLine[x] == 0 {
				continue
			}
			pal := p.obp0
			if obpSel[x] != 0 {
				pal = p.obp1
			}
			final[x] = applyPalette(pal, spriteLine[x])
		}
	}

	copy(p.framebuffer[int(ly)*160:int(ly)*160+160], final[:])

	p.lastLineRegs = LineRegs{SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy, WinLine: winLine, WindowDrew: windowDrew}
	p.lineHistory[ly] = p.lastLineRegs
}

// LineRegs returns the register snapshot captured the last time
// scanline y was rendered (zero value if it hasn't been rendered yet).
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= 144 {
		return LineRegs{}
	}
	return p.lineHistory[y]
}

// Framebuffer returns the 160x144 buffer of post-palette 2-bit shades
// (0=lightest .. 3=darkest), row-major.
func (p *PPU) Framebuffer() []byte { return p.framebuffer[:] }

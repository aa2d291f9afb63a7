package ppu

// fillFromFetcher drains a row of 8-pixel tile fetches into out[fromX:],
// advancing to the next tilemap column (wrapping at 32 tiles) whenever the
// fifo runs dry. Used by the window scanline renderer below; the BG
// renderer runs the same tile-advance loop inline, because it first
// discards the SCX-fraction pixels of its first tile.
func fillFromFetcher(out *[160]byte, f *bgFetcher, q *fifo, mapBase uint16, tileData8000 bool, mapY, startTileX uint16, fineY byte, fromX int) {
	tileX := startTileX
	tileIndexAddr := mapBase + mapY*32 + tileX
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	for x := fromX; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
}

// RenderBGScanlineUsingFetcher renders 160 background color indices for
// scanline ly, honoring SCX/SCY wraparound across the 32x32 tilemap.
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	var q fifo
	f := newBGFetcher(mem, &q)
	// Prime the first tile ourselves so we can discard the SCX-fraction
	// pixels before the loop below starts writing at x=0.
	f.Configure(mapBase, tileData8000, mapBase+mapY*32+tileX, fineY)
	f.Fetch()
	for i := 0; i < fineX; i++ {
		q.Pop()
	}
	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			f.Configure(mapBase, tileData8000, mapBase+mapY*32+tileX, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanlineUsingFetcher renders the window layer starting at
// screen column wxStart (WX-7), using winLine as the window's own internal
// row counter (distinct from LY: it only advances on lines the window
// actually draws). Columns left of wxStart are left zeroed for the caller
// to blend against the background.
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7

	var q fifo
	f := newBGFetcher(mem, &q)
	fillFromFetcher(&out, f, &q, mapBase, tileData8000, mapY, 0, fineY, wxStart)
	return out
}

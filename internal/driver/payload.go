package driver

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"pkt.systems/cursortrail/schema"
)

// TrailGlyph is drawn into every trail window.
const TrailGlyph = "█"

// HighlightPrefix names the per-segment highlight groups, head first.
const HighlightPrefix = "CursorTrail"

// Payload is the content of one render window.
type Payload struct {
	Text      string
	Highlight string
}

// Hash fingerprints the payload for the per-window draw memo.
func (p Payload) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(p.Text)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(p.Highlight)
	return d.Sum64()
}

// segmentPayload returns the payload for the segment at position i of a
// trail with segments points.
func segmentPayload(i, segments int) Payload {
	n := min(i+1, max(segments, 1))
	return Payload{Text: TrailGlyph, Highlight: HighlightPrefix + strconv.Itoa(n)}
}

// drawSignature fingerprints a whole frame. Order matters: it decides
// which payload each placement gets.
func drawSignature(placements []schema.WindowPlacement) uint64 {
	buf := make([]byte, 0, len(placements)*32)
	for _, p := range placements {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Row))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Col))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Width))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.ZIndex))
	}
	return xxhash.Sum64(buf)
}

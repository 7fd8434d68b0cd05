package stream

// Chunked transfer-coding decoder for request bodies. Feed it buffered
// input; it hands back decoded spans aliasing the input buffer, one
// chunk fragment at a time.

type chunkPhase uint8

const (
	chunkSize chunkPhase = iota
	chunkExt             // extensions are parsed and discarded
	chunkSizeLF
	chunkData
	chunkDataCR
	chunkDataLF
	chunkDone // zero chunk seen; footers follow
)

// maxChunkSize keeps a hostile chunk size from overflowing offsets.
const maxChunkSize = 1 << 40

type chunkedDecoder struct {
	phase   chunkPhase
	left    uint64 // undelivered bytes of the current chunk
	size    uint64 // accumulating hex size
	sawHex  bool
	tooLong bool
}

func (d *chunkedDecoder) reset() {
	*d = chunkedDecoder{}
}

// step consumes input and returns the number of bytes consumed, a
// decoded data span (aliasing in), and whether a framing error occurred.
// A nil span with no error means more input is needed or the terminating
// chunk was just completed (check d.phase == chunkDone).
func (d *chunkedDecoder) step(in []byte) (consumed int, data []byte, bad bool) {
	i := 0
	for i < len(in) {
		c := in[i]
		switch d.phase {
		case chunkSize:
			h := hexToByte(c)
			if h != 255 {
				if d.size > maxChunkSize {
					return i, nil, true
				}
				d.size = d.size<<4 | uint64(h)
				d.sawHex = true
				i++
				continue
			}
			if !d.sawHex {
				return i, nil, true
			}
			if c == ';' {
				d.phase = chunkExt
				i++
				continue
			}
			d.phase = chunkSizeLF
			// fallthrough to line-end handling without consuming
		case chunkExt:
			if c == '\r' || c == '\n' {
				d.phase = chunkSizeLF
				continue
			}
			i++
		case chunkSizeLF:
			if c == '\r' {
				i++
				continue
			}
			if c != '\n' {
				return i, nil, true
			}
			i++
			if d.size == 0 {
				d.phase = chunkDone
				return i, nil, false
			}
			d.left = d.size
			d.phase = chunkData
		case chunkData:
			n := uint64(len(in) - i)
			if n > d.left {
				n = d.left
			}
			span := in[i : i+int(n)]
			i += int(n)
			d.left -= n
			if d.left == 0 {
				d.phase = chunkDataCR
			}
			return i, span, false
		case chunkDataCR:
			if c == '\r' {
				d.phase = chunkDataLF
				i++
				continue
			}
			if c == '\n' {
				i++
				d.nextChunk()
				continue
			}
			return i, nil, true
		case chunkDataLF:
			if c != '\n' {
				return i, nil, true
			}
			i++
			d.nextChunk()
		case chunkDone:
			return i, nil, false
		}
	}
	return i, nil, false
}

func (d *chunkedDecoder) nextChunk() {
	d.phase = chunkSize
	d.size = 0
	d.sawHex = false
}

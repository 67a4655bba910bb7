package fpga

import "fmt"

// Transfer is the progress of one image update. It is a value: Advance
// returns an updated copy.
type Transfer struct {
	Image     string // base64 text
	ChunkSize int
	Total     int
	Next      int // index of the chunk awaiting acknowledgement
	Rescale   bool
}

// NewTransfer plans the transfer of image under a maxPayload limit. When
// rescale is set, progress is reported in the upper half of 0-100 because a
// firmware update already used the lower half.
func NewTransfer(image string, maxPayload int, rescale bool) (Transfer, error) {
	size := ChunkSize(maxPayload)
	if size <= 0 {
		return Transfer{}, fmt.Errorf("%w: max payload %d", ErrChunkSize, maxPayload)
	}
	if len(image) == 0 {
		return Transfer{}, fmt.Errorf("fpga: empty image")
	}
	return Transfer{
		Image:     image,
		ChunkSize: size,
		Total:     (len(image) + size - 1) / size,
		Rescale:   rescale,
	}, nil
}

// Chunk returns the base64 text of chunk Next.
func (t Transfer) Chunk() string {
	start := t.Next * t.ChunkSize
	if start >= len(t.Image) {
		return ""
	}
	end := min(start+t.ChunkSize, len(t.Image))
	return t.Image[start:end]
}

// Command returns the write statement for chunk Next.
func (t Transfer) Command() string {
	return WriteCommand(t.Chunk())
}

// Advance marks chunk Next as acknowledged.
func (t Transfer) Advance() Transfer {
	if t.Next < t.Total {
		t.Next++
	}
	return t
}

// Done reports whether every chunk has been acknowledged.
func (t Transfer) Done() bool {
	return t.Next >= t.Total
}

// Percent is the share of the image acknowledged so far, 0-100.
func (t Transfer) Percent() int {
	if len(t.Image) == 0 {
		return 0
	}
	p := 100 * t.Next * t.ChunkSize / len(t.Image)
	return max(0, min(100, p))
}

// Reported is Percent mapped into the range the user sees.
func (t Transfer) Reported() int {
	if t.Rescale {
		return 50 + t.Percent()/2
	}
	return t.Percent()
}

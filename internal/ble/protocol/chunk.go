package protocol

import "unicode/utf8"

// ChunkText splits text into pieces of at most maxBytes bytes. It prefers
// breaking after a space and never breaks inside a UTF-8 sequence; a single
// rune wider than maxBytes is emitted whole. Returns nil for empty text or a
// non-positive limit.
func ChunkText(text string, maxBytes int) []string {
	if len(text) == 0 || maxBytes <= 0 {
		return nil
	}

	var chunks []string
	for len(text) > maxBytes {
		split := maxBytes
		for split > 0 && !utf8.RuneStart(text[split]) {
			split--
		}
		if split == 0 {
			_, size := utf8.DecodeRuneInString(text)
			split = size
		} else {
			for i := split; i > 0; i-- {
				if text[i-1] == ' ' {
					split = i
					break
				}
			}
		}
		chunks = append(chunks, text[:split])
		text = text[split:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// FrameText splits text into tagged frames that each fit in maxPayload bytes.
// Every frame repeats the tag; the device concatenates payloads until the
// stream goes quiet. A maxPayload with no room after the tag yields no frames.
func FrameText(tag Tag, text string, maxPayload int) [][]byte {
	pieces := ChunkText(text, maxPayload-TagSize)
	frames := make([][]byte, 0, len(pieces))
	for _, p := range pieces {
		frames = append(frames, Frame(tag, []byte(p)))
	}
	return frames
}

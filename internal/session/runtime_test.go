package session

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/chaz8081/monolink/internal/ai"
	"github.com/chaz8081/monolink/internal/chatlog"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestAssistantRoundTrip(t *testing.T) {
	tr := &fakeTranscriber{text: "what is the tallest mountain"}
	conv := &fakeConverser{reply: "Mount Everest."}
	h := start(t, Collaborators{Transcriber: tr, Converser: conv}, testOptions(t))
	h.reachRunning(t)

	h.frames("ast:", "dat:\x01\x00\x02\x00", "dat:\x03\x00", "aen:")

	ping := h.waitSent(t, "pin:")
	id := strings.TrimPrefix(ping, "pin:")
	if len(id) != 36 {
		t.Fatalf("ping id = %q, want a UUID", id)
	}
	if q, _ := conv.calls(); len(q) != 0 {
		t.Fatalf("converse called before acknowledgement: %q", q)
	}

	h.frames("pon:" + id)
	h.waitSent(t, "res:")

	queries, _ := conv.calls()
	if len(queries) != 1 || queries[0] != "what is the tallest mountain" {
		t.Errorf("queries = %q, want the transcript", queries)
	}
	var replies []string
	for _, d := range h.tr.data() {
		if strings.HasPrefix(d, "res:") {
			replies = append(replies, strings.TrimPrefix(d, "res:"))
		}
	}
	if got := strings.Join(replies, ""); got != "Mount Everest." {
		t.Errorf("relayed reply = %q, want %q", got, "Mount Everest.")
	}

	msgs := h.messages.all()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v, want query and reply", msgs)
	}
	if msgs[0].Participant != chatlog.User || msgs[0].Text != "what is the tallest mountain" {
		t.Errorf("first message = %+v, want the user's query", msgs[0])
	}
	if msgs[1].Participant != chatlog.Assistant || msgs[1].Text != "Mount Everest." {
		t.Errorf("second message = %+v, want the assistant's reply", msgs[1])
	}

	// A second pon: for the same id is ignored.
	h.frames("pon:" + id)
	h.settle()
	if q, _ := conv.calls(); len(q) != 1 {
		t.Errorf("converse called %d times, want 1", len(q))
	}
}

func TestTranscriptionReceivesWAV(t *testing.T) {
	tr := &fakeTranscriber{text: "hi"}
	h := start(t, Collaborators{Transcriber: tr, Converser: &fakeConverser{}}, testOptions(t))
	h.reachRunning(t)

	h.frames("ast:", "dat:\x01\x00\x02\x00", "aen:")
	h.waitSent(t, "pin:")

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.wavs) != 1 {
		t.Fatalf("transcriptions = %d, want 1", len(tr.wavs))
	}
	if !bytes.HasPrefix(tr.wavs[0], []byte("RIFF")) {
		t.Errorf("audio = %q..., want a WAV file", tr.wavs[0][:min(4, len(tr.wavs[0]))])
	}
	if tr.modes[0] != ai.ModeAssistant {
		t.Errorf("mode = %v, want %v", tr.modes[0], ai.ModeAssistant)
	}
}

func TestTranslatorModeRelaysTranscript(t *testing.T) {
	opts := testOptions(t)
	opts.Mode = ai.ModeTranslator
	conv := &fakeConverser{}
	h := start(t, Collaborators{Transcriber: &fakeTranscriber{text: "good morning"}, Converser: conv}, opts)
	h.reachRunning(t)

	h.frames("ast:", "dat:\x00\x00", "aen:")
	if got := h.waitSent(t, "res:"); got != "res:good morning" {
		t.Errorf("relayed = %q, want %q", got, "res:good morning")
	}
	for _, d := range h.tr.data() {
		if strings.HasPrefix(d, "pin:") {
			t.Errorf("unexpected ping %q in translator mode", d)
		}
	}
	msgs := h.messages.all()
	if len(msgs) != 1 || msgs[0].Participant != chatlog.Translator {
		t.Errorf("messages = %+v, want one translator message", msgs)
	}
	if q, _ := conv.calls(); len(q) != 0 {
		t.Errorf("converse called in translator mode: %q", q)
	}
}

func TestOddAudioIsReported(t *testing.T) {
	tr := &fakeTranscriber{text: "unused"}
	h := start(t, Collaborators{Transcriber: tr}, testOptions(t))
	h.reachRunning(t)

	h.frames("ast:", "dat:\x01\x02\x03", "aen:")

	got := h.waitSent(t, "err:")
	if got != "err:Audio was not received intact." {
		t.Errorf("relayed = %q", got)
	}
	msgs := h.messages.all()
	if len(msgs) != 1 || !msgs[0].IsError || msgs[0].Participant != chatlog.User {
		t.Errorf("messages = %+v, want one user error", msgs)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.wavs) != 0 {
		t.Errorf("transcribed %d captures, want 0", len(tr.wavs))
	}
}

func TestServiceErrorIsRelayed(t *testing.T) {
	tr := &fakeTranscriber{err: &ai.APIError{Service: "openai", StatusCode: 401, Message: "invalid key"}}
	h := start(t, Collaborators{Transcriber: tr}, testOptions(t))
	h.reachRunning(t)

	h.frames("ast:", "dat:\x00\x00", "aen:")

	got := h.waitSent(t, "err:")
	if !strings.Contains(got, "invalid key") {
		t.Errorf("relayed = %q, want the service message", got)
	}
}

func TestLongReplyIsSplitToPayload(t *testing.T) {
	reply := strings.Repeat("word ", 100)
	h := start(t, Collaborators{
		Transport: newMockTransport(40),
		Converser: &fakeConverser{reply: reply},
	}, testOptions(t))
	h.reachRunning(t)

	h.m.SubmitQuery("tell me a story")
	h.waitSent(t, "res:")
	waitFor(t, "whole reply", func() bool {
		var b strings.Builder
		for _, d := range h.tr.data() {
			b.WriteString(strings.TrimPrefix(d, "res:"))
		}
		return b.String() == reply
	})
	for _, d := range h.tr.data() {
		if len(d) > 40 {
			t.Errorf("frame of %d bytes exceeds payload 40", len(d))
		}
	}
}

func TestImagePromptIsTransformed(t *testing.T) {
	photo := pngBytes(t)
	images := &fakeImages{out: []byte("rendered")}
	h := start(t, Collaborators{
		Transcriber: &fakeTranscriber{text: "make it a watercolor"},
		Converser:   &fakeConverser{},
		Images:      images,
	}, testOptions(t))
	h.reachRunning(t)

	h.frames("ist:", "idt:"+string(photo[:10]), "idt:"+string(photo[10:]), "ien:", "dat:\x00\x00", "aen:")

	h.waitSent(t, "ick:")
	h.waitSent(t, "res:")

	images.mu.Lock()
	prompts := append([]string(nil), images.prompts...)
	images.mu.Unlock()
	if len(prompts) != 1 || prompts[0] != "make it a watercolor" {
		t.Errorf("prompts = %q, want the transcript", prompts)
	}
	for _, d := range h.tr.data() {
		if strings.HasPrefix(d, "pin:") {
			t.Errorf("unexpected ping %q for an image request", d)
		}
	}
	msgs := h.messages.all()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want photo and rendering", len(msgs))
	}
	if !bytes.Equal(msgs[0].Picture, photo) || msgs[0].Participant != chatlog.User {
		t.Errorf("first message should carry the user's photo")
	}
	if string(msgs[1].Picture) != "rendered" || msgs[1].Participant != chatlog.Assistant {
		t.Errorf("second message should carry the rendering")
	}
}

func TestUndecodablePhotoIsReported(t *testing.T) {
	images := &fakeImages{}
	h := start(t, Collaborators{Transcriber: &fakeTranscriber{text: "prompt"}, Images: images}, testOptions(t))
	h.reachRunning(t)

	h.frames("ist:", "idt:not an image", "ien:", "dat:\x00\x00", "aen:")

	if got := h.waitSent(t, "err:"); got != "err:Photo could not be decoded" {
		t.Errorf("relayed = %q", got)
	}
	images.mu.Lock()
	defer images.mu.Unlock()
	if len(images.prompts) != 0 {
		t.Errorf("transform called for an undecodable photo")
	}
}

func TestAudioStartDropsPhoto(t *testing.T) {
	h := start(t, Collaborators{Transcriber: &fakeTranscriber{text: "plain"}, Converser: &fakeConverser{}}, testOptions(t))
	h.reachRunning(t)

	h.frames("ist:", "idt:abc", "ien:", "ast:", "dat:\x00\x00", "aen:")
	h.waitSent(t, "pin:")
	for _, d := range h.tr.data() {
		if d == "ick:" {
			t.Error("photo used after a plain audio start")
		}
	}
}

func TestDataIgnoredBeforeRunning(t *testing.T) {
	tr := &fakeTranscriber{text: "x"}
	h := start(t, Collaborators{Transcriber: tr}, testOptions(t))

	h.frames("ast:", "dat:\x00\x00", "aen:")
	h.settle()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.wavs) != 0 {
		t.Errorf("transcribed %d captures while disconnected", len(tr.wavs))
	}
}

func TestDisconnectDropsPendingQueries(t *testing.T) {
	conv := &fakeConverser{reply: "late"}
	h := start(t, Collaborators{Transcriber: &fakeTranscriber{text: "q"}, Converser: conv}, testOptions(t))
	h.reachRunning(t)

	h.frames("ast:", "dat:\x00\x00", "aen:")
	id := strings.TrimPrefix(h.waitSent(t, "pin:"), "pin:")

	h.m.DeviceDisconnected()
	h.reachRunning(t)
	h.frames("pon:" + id)
	h.settle()

	if q, _ := conv.calls(); len(q) != 0 {
		t.Errorf("converse called for a query from a previous connection: %q", q)
	}
}

func TestSetModeClearsHistory(t *testing.T) {
	conv := &fakeConverser{}
	h := start(t, Collaborators{Converser: conv}, testOptions(t))

	h.m.SetMode(ai.ModeTranslator)
	h.settle()
	if _, cleared := conv.calls(); cleared != 1 {
		t.Errorf("history cleared %d times, want 1", cleared)
	}
	if h.messages.cleared != 1 {
		t.Errorf("chat log cleared %d times, want 1", h.messages.cleared)
	}

	// Same mode again is a no-op.
	h.m.SetMode(ai.ModeTranslator)
	h.settle()
	if _, cleared := conv.calls(); cleared != 1 {
		t.Errorf("history cleared %d times, want 1", cleared)
	}

	h.m.ClearHistory()
	h.settle()
	if _, cleared := conv.calls(); cleared != 2 {
		t.Errorf("history cleared %d times, want 2", cleared)
	}
}

func TestSubmitQueryWithoutConverser(t *testing.T) {
	h := start(t, Collaborators{}, testOptions(t))
	h.reachRunning(t)

	h.m.SubmitQuery("hello")
	got := h.waitSent(t, "err:")
	if !strings.Contains(got, "not configured") {
		t.Errorf("relayed = %q, want a not configured error", got)
	}
}

package session

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/chaz8081/monolink/internal/ai"
	"github.com/chaz8081/monolink/internal/audio"
	"github.com/chaz8081/monolink/internal/ble/protocol"
	"github.com/chaz8081/monolink/internal/chatlog"
	"github.com/chaz8081/monolink/internal/command"
)

func (m *Machine) onData(frame []byte) {
	if _, ok := m.state.(Running); !ok {
		slog.Debug("[Session] Data frame outside running state ignored", "state", Name(m.state), "len", len(frame))
		return
	}

	res, err := m.dispatcher.Dispatch(frame)
	if err != nil {
		m.fail(chatlog.User, "Audio was not received intact.", &Error{Kind: KindDataIntegrity, Op: "audio", Err: err})
		return
	}
	switch r := res.(type) {
	case command.AudioReady:
		m.onAudio(r)
	case command.Acknowledged:
		m.onAcknowledged(r.ID)
	}
}

// onAudio sends a finished capture for transcription.
func (m *Machine) onAudio(r command.AudioReady) {
	slog.Info("[Session] Audio received", "bytes", len(r.PCM), "image_bytes", len(r.Image))

	if m.c.Player != nil {
		if samples, err := audio.Samples(r.PCM, m.opts.BigEndian); err == nil {
			if _, err := m.c.Player.Play(samples); err != nil {
				slog.Warn("[Session] Playback failed", "error", err)
			}
		}
	}

	mode := m.mode
	if mode == ai.ModeAssistant {
		m.typing(chatlog.User)
	} else {
		m.typing(chatlog.Translator)
	}

	wav, err := audio.EncodeWAV(r.PCM, m.opts.SampleRate, m.opts.BigEndian)
	if err != nil {
		m.fail(chatlog.User, "Unable to process audio!", &Error{Kind: KindDataIntegrity, Op: "audio", Err: err})
		return
	}

	ctx, t, img := m.ctx, m.c.Transcriber, r.Image
	go func() {
		if t == nil {
			m.post(transcribed{err: fmt.Errorf("transcriber %w", errNotConfigured), image: img, mode: mode})
			return
		}
		text, err := t.Transcribe(ctx, wav, mode)
		m.post(transcribed{text: text, err: err, image: img, mode: mode})
	}()
}

func (m *Machine) onTranscribed(e transcribed) {
	if e.err != nil {
		m.fail(chatlog.User, e.err.Error(), &Error{Kind: KindService, Op: "transcribe", Err: e.err})
		return
	}
	slog.Info("[Session] Transcribed", "mode", e.mode.String(), "text", e.text)

	if len(e.image) > 0 {
		m.transformImage(e.text, e.image)
		return
	}

	switch e.mode {
	case ai.ModeAssistant:
		// The device echoes the id back as pon:, and only then is the
		// query sent on.
		id := m.pending.Register(e.text)
		m.c.Transport.Send(protocol.ChannelData, protocol.Frame(protocol.TagPing, []byte(id)))
		slog.Info("[Session] Sent transcription id", "id", id)
	case ai.ModeTranslator:
		m.say(chatlog.Translator, e.text, nil)
	}
}

func (m *Machine) onAcknowledged(id string) {
	query, ok := m.pending.Resolve(id)
	if !ok {
		slog.Debug("[Session] Unknown transcription id", "id", id)
		return
	}
	slog.Info("[Session] Transcription acknowledged", "id", id)
	m.submitQuery(query)
}

// submitQuery shows query as the user's and asks the chat service.
func (m *Machine) submitQuery(query string) {
	m.put(chatlog.Message{Participant: chatlog.User, Text: query})

	mode := m.mode
	m.typing(responder(mode))

	ctx, c := m.ctx, m.c.Converser
	go func() {
		if c == nil {
			m.post(conversed{err: fmt.Errorf("chat %w", errNotConfigured), mode: mode})
			return
		}
		reply, err := c.Converse(ctx, query, mode)
		m.post(conversed{reply: reply, err: err, mode: mode})
	}()
}

func (m *Machine) onConversed(e conversed) {
	if e.err != nil {
		m.fail(responder(e.mode), e.err.Error(), &Error{Kind: KindService, Op: "converse", Err: e.err})
		return
	}
	m.say(responder(e.mode), e.reply, nil)
}

// transformImage renders the photo taken before the capture using the
// transcript as the prompt.
func (m *Machine) transformImage(prompt string, photo []byte) {
	// Nothing will come back to the device; let it return to idle.
	m.c.Transport.Send(protocol.ChannelData, protocol.Frame(protocol.TagImageAck, nil))

	if _, _, err := image.DecodeConfig(bytes.NewReader(photo)); err != nil {
		m.fail(chatlog.User, "Photo could not be decoded", &Error{Kind: KindDataIntegrity, Op: "photo", Err: err})
		return
	}

	m.put(chatlog.Message{Participant: chatlog.User, Text: prompt, Picture: photo})
	m.typing(chatlog.Assistant)

	ctx, t := m.ctx, m.c.Images
	go func() {
		if t == nil {
			m.post(transformed{prompt: prompt, err: fmt.Errorf("image service %w", errNotConfigured)})
			return
		}
		img, err := t.Transform(ctx, photo, prompt)
		m.post(transformed{prompt: prompt, image: img, err: err})
	}()
}

func (m *Machine) onTransformed(e transformed) {
	if e.err != nil {
		m.fail(chatlog.Assistant, e.err.Error(), &Error{Kind: KindService, Op: "transform image", Err: e.err})
		return
	}
	m.say(chatlog.Assistant, e.prompt, e.image)
}

func (m *Machine) onModeChange(mode ai.Mode) {
	if mode == m.mode {
		return
	}
	slog.Info("[Session] Mode changed", "from", m.mode.String(), "to", mode.String())
	m.mode = mode
	m.clearHistory()
}

func (m *Machine) clearHistory() {
	if err := m.c.Messages.Clear(); err != nil {
		slog.Warn("[Session] Clearing chat log failed", "error", err)
	}
	if m.c.Converser != nil {
		m.c.Converser.ClearHistory()
	}
	m.pending.Clear()
}

// say records a message and relays anything not from the user to the device.
func (m *Machine) say(p chatlog.Participant, text string, picture []byte) {
	m.put(chatlog.Message{Participant: p, Text: text, Picture: picture})
	if p != chatlog.User {
		m.sendText(protocol.TagResponse, text)
	}
}

// fail logs e and, for user-visible kinds, records msg as an error and relays
// it to the device.
func (m *Machine) fail(p chatlog.Participant, msg string, e *Error) {
	m.report(e)
	if !e.Kind.UserVisible() {
		return
	}
	m.put(chatlog.Message{Participant: p, Text: msg, IsError: true})
	m.sendText(protocol.TagError, msg)
}

func (m *Machine) typing(p chatlog.Participant) {
	m.put(chatlog.Message{Participant: p, Typing: true})
}

func (m *Machine) put(msg chatlog.Message) {
	if err := m.c.Messages.Put(msg); err != nil {
		slog.Warn("[Session] Storing chat message failed", "error", err)
	}
}

// sendText splits text into tagged frames that each fit one write.
func (m *Machine) sendText(tag protocol.Tag, text string) {
	payload, ok := m.c.Transport.MaxPayload()
	if !ok {
		slog.Warn("[Session] Max payload unknown, text not relayed", "tag", string(tag))
		return
	}
	for _, frame := range protocol.FrameText(tag, text, payload) {
		m.c.Transport.Send(protocol.ChannelData, frame)
	}
}

func responder(mode ai.Mode) chatlog.Participant {
	if mode == ai.ModeTranslator {
		return chatlog.Translator
	}
	return chatlog.Assistant
}

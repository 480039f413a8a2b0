package wyoming

import (
	"encoding/json"
	"fmt"
)

// Event type tags.
const (
	TypeDescribe   = "describe"
	TypeInfo       = "info"
	TypeSynthesize = "synthesize"
	TypeAudioStart = "audio-start"
	TypeAudioChunk = "audio-chunk"
	TypeAudioStop  = "audio-stop"
)

// Event is one of Describe, Info, Synthesize, AudioStart, AudioChunk,
// AudioStop or Unrecognized.
type Event interface {
	Type() string
}

type Describe struct{}

type Info struct {
	TTS    []TTSProgram `json:"tts"`
	ASR    []any        `json:"asr"`
	Handle []any        `json:"handle"`
	Intent []any        `json:"intent"`
	Wake   []any        `json:"wake"`
	Mic    []any        `json:"mic"`
	Snd    []any        `json:"snd"`
}

type Attribution struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type TTSProgram struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Attribution Attribution `json:"attribution"`
	Installed   bool        `json:"installed"`
	Version     string      `json:"version"`
	Voices      []TTSVoice  `json:"voices"`
}

type TTSVoice struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Attribution Attribution `json:"attribution"`
	Installed   bool        `json:"installed"`
	Version     string      `json:"version"`
	Languages   []string    `json:"languages"`
	Speakers    []any       `json:"speakers"`
}

// NewInfo returns an Info with every non-TTS service list present but empty.
func NewInfo(programs ...TTSProgram) Info {
	if programs == nil {
		programs = []TTSProgram{}
	}
	return Info{
		TTS:    programs,
		ASR:    []any{},
		Handle: []any{},
		Intent: []any{},
		Wake:   []any{},
		Mic:    []any{},
		Snd:    []any{},
	}
}

type Synthesize struct {
	Text  string           `json:"text"`
	Voice *SynthesizeVoice `json:"voice,omitempty"`
}

type SynthesizeVoice struct {
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
	Speaker  string `json:"speaker,omitempty"`
}

// VoiceName returns the requested voice or "" when none was given.
func (s Synthesize) VoiceName() string {
	if s.Voice == nil {
		return ""
	}
	return s.Voice.Name
}

type AudioStart struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// AudioChunk carries PCM in the frame payload, never in the data block.
type AudioChunk struct {
	Rate     int    `json:"rate"`
	Width    int    `json:"width"`
	Channels int    `json:"channels"`
	Audio    []byte `json:"-"`
}

type AudioStop struct{}

// Unrecognized wraps frames with an unknown type or undecodable data.
type Unrecognized struct {
	Name string
	Data json.RawMessage
	Err  error
}

func (Describe) Type() string       { return TypeDescribe }
func (Info) Type() string           { return TypeInfo }
func (Synthesize) Type() string     { return TypeSynthesize }
func (AudioStart) Type() string     { return TypeAudioStart }
func (AudioChunk) Type() string     { return TypeAudioChunk }
func (AudioStop) Type() string      { return TypeAudioStop }
func (u Unrecognized) Type() string { return u.Name }

// Decode classifies a frame into its event.
func Decode(f Frame) Event {
	name := f.Header.Type
	switch name {
	case TypeDescribe:
		return Describe{}
	case TypeAudioStop:
		return AudioStop{}
	case TypeInfo:
		var ev Info
		return decodeInto(f, &ev)
	case TypeSynthesize:
		var ev Synthesize
		return decodeInto(f, &ev)
	case TypeAudioStart:
		var ev AudioStart
		return decodeInto(f, &ev)
	case TypeAudioChunk:
		var ev AudioChunk
		out := decodeInto(f, &ev)
		if chunk, ok := out.(AudioChunk); ok {
			chunk.Audio = f.Payload
			return chunk
		}
		return out
	default:
		return Unrecognized{Name: name, Data: f.Data}
	}
}

func decodeInto[T Event](f Frame, ev *T) Event {
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, ev); err != nil {
			return Unrecognized{Name: f.Header.Type, Data: f.Data, Err: fmt.Errorf("decode %s: %w", f.Header.Type, err)}
		}
	}
	return *ev
}

// Encode returns the type tag, data object and payload for ev.
func Encode(ev Event) (string, any, []byte) {
	switch e := ev.(type) {
	case Describe, AudioStop:
		return e.Type(), nil, nil
	case AudioChunk:
		return e.Type(), e, e.Audio
	case Unrecognized:
		if len(e.Data) == 0 {
			return e.Name, nil, nil
		}
		return e.Name, e.Data, nil
	default:
		return ev.Type(), ev, nil
	}
}

package realtime

import (
	"encoding/json"
	"fmt"
)

// EventType identifies realtime control-channel payload variants.
type EventType string

// Server → client event types. The provider renamed the response audio
// events between API generations; both spellings appear in the wild and
// parse to the same typed events.
const (
	TypeSessionCreated EventType = "session.created"
	TypeSessionUpdated EventType = "session.updated"

	TypeSpeechStarted  EventType = "input_audio_buffer.speech_started"
	TypeSpeechStopped  EventType = "input_audio_buffer.speech_stopped"
	TypeInputCommitted EventType = "input_audio_buffer.committed"

	TypeInputTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	TypeInputTranscriptionDelta     EventType = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptionFailed    EventType = "conversation.item.input_audio_transcription.failed"

	TypeResponseCreated EventType = "response.created"
	TypeResponseDone    EventType = "response.done"

	TypeAudioDelta           EventType = "response.output_audio.delta"
	TypeAudioDone            EventType = "response.output_audio.done"
	TypeAudioTranscriptDelta EventType = "response.output_audio_transcript.delta"
	TypeAudioTranscriptDone  EventType = "response.output_audio_transcript.done"

	TypeFunctionCallArgumentsDelta EventType = "response.function_call_arguments.delta"
	TypeFunctionCallArgumentsDone  EventType = "response.function_call_arguments.done"

	TypeError EventType = "error"
)

// Legacy spellings still emitted by the previous provider API generation.
const (
	typeAudioDeltaLegacy           EventType = "response.audio.delta"
	typeAudioDoneLegacy            EventType = "response.audio.done"
	typeAudioTranscriptDeltaLegacy EventType = "response.audio_transcript.delta"
	typeAudioTranscriptDoneLegacy  EventType = "response.audio_transcript.done"
)

// Client → server event types.
const (
	TypeSessionUpdate          EventType = "session.update"
	TypeConversationItemCreate EventType = "conversation.item.create"
	TypeResponseCreate         EventType = "response.create"
	TypeResponseCancel         EventType = "response.cancel"
	TypeInputAudioAppend       EventType = "input_audio_buffer.append"
	TypeInputAudioCommit       EventType = "input_audio_buffer.commit"
)

// Event is any parsed control-channel payload.
type Event interface {
	Kind() EventType
}

type envelope struct {
	Type EventType `json:"type"`
}

type SessionCreated struct {
	EventID string          `json:"event_id,omitempty"`
	Session SessionResource `json:"session"`
}

func (SessionCreated) Kind() EventType { return TypeSessionCreated }

type SessionUpdated struct {
	EventID string          `json:"event_id,omitempty"`
	Session SessionResource `json:"session"`
}

func (SessionUpdated) Kind() EventType { return TypeSessionUpdated }

type SpeechStarted struct {
	AudioStartMS int64  `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

func (SpeechStarted) Kind() EventType { return TypeSpeechStarted }

type SpeechStopped struct {
	AudioEndMS int64  `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

func (SpeechStopped) Kind() EventType { return TypeSpeechStopped }

type InputCommitted struct {
	PreviousItemID string `json:"previous_item_id,omitempty"`
	ItemID         string `json:"item_id"`
}

func (InputCommitted) Kind() EventType { return TypeInputCommitted }

type InputTranscriptionCompleted struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

func (InputTranscriptionCompleted) Kind() EventType { return TypeInputTranscriptionCompleted }

type InputTranscriptionDelta struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

func (InputTranscriptionDelta) Kind() EventType { return TypeInputTranscriptionDelta }

type InputTranscriptionFailed struct {
	ItemID string    `json:"item_id"`
	Error  ErrorBody `json:"error"`
}

func (InputTranscriptionFailed) Kind() EventType { return TypeInputTranscriptionFailed }

type ResponseCreated struct {
	Response ResponseResource `json:"response"`
}

func (ResponseCreated) Kind() EventType { return TypeResponseCreated }

type ResponseDone struct {
	Response ResponseResource `json:"response"`
}

func (ResponseDone) Kind() EventType { return TypeResponseDone }

type AudioDelta struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	// Delta is base64 PCM16 on the websocket transport; on WebRTC audio
	// flows over the media track and this event is typically absent.
	Delta string `json:"delta"`
}

func (AudioDelta) Kind() EventType { return TypeAudioDelta }

type AudioDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
}

func (AudioDone) Kind() EventType { return TypeAudioDone }

type AudioTranscriptDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

func (AudioTranscriptDelta) Kind() EventType { return TypeAudioTranscriptDelta }

type AudioTranscriptDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (AudioTranscriptDone) Kind() EventType { return TypeAudioTranscriptDone }

type FunctionCallArgumentsDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Delta      string `json:"delta"`
}

func (FunctionCallArgumentsDelta) Kind() EventType { return TypeFunctionCallArgumentsDelta }

type FunctionCallArgumentsDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

func (FunctionCallArgumentsDone) Kind() EventType { return TypeFunctionCallArgumentsDone }

// ErrorBody is the provider's error payload, shared by the error event and
// transcription failures.
type ErrorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type ErrorEvent struct {
	Error ErrorBody `json:"error"`
}

func (ErrorEvent) Kind() EventType { return TypeError }

// GenericEvent carries any event type this package does not model. Unknown
// types are forwarded, not rejected, so protocol additions never break the
// session.
type GenericEvent struct {
	Type EventType
	Raw  json.RawMessage
}

func (e GenericEvent) Kind() EventType { return e.Type }

// ParseServerEvent decodes one inbound control-channel payload into its
// typed event. Unknown types come back as GenericEvent, never as an error.
func ParseServerEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid realtime event: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("realtime event missing type")
	}

	switch env.Type {
	case TypeSessionCreated:
		var msg SessionCreated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeSessionUpdated:
		var msg SessionUpdated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeSpeechStarted:
		var msg SpeechStarted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeSpeechStopped:
		var msg SpeechStopped
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeInputCommitted:
		var msg InputCommitted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeInputTranscriptionCompleted:
		var msg InputTranscriptionCompleted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeInputTranscriptionDelta:
		var msg InputTranscriptionDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeInputTranscriptionFailed:
		var msg InputTranscriptionFailed
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeResponseCreated:
		var msg ResponseCreated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeResponseDone:
		var msg ResponseDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeAudioDelta, typeAudioDeltaLegacy:
		var msg AudioDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeAudioDone, typeAudioDoneLegacy:
		var msg AudioDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeAudioTranscriptDelta, typeAudioTranscriptDeltaLegacy:
		var msg AudioTranscriptDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeAudioTranscriptDone, typeAudioTranscriptDoneLegacy:
		var msg AudioTranscriptDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeFunctionCallArgumentsDelta:
		var msg FunctionCallArgumentsDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeFunctionCallArgumentsDone:
		var msg FunctionCallArgumentsDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	case TypeError:
		var msg ErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return msg, nil
	default:
		return GenericEvent{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

package realtime

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseServerEventSpeechStarted(t *testing.T) {
	raw := []byte(`{"type":"input_audio_buffer.speech_started","audio_start_ms":1200,"item_id":"item_1"}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}

	started, ok := ev.(SpeechStarted)
	if !ok {
		t.Fatalf("event type = %T, want SpeechStarted", ev)
	}
	if started.AudioStartMS != 1200 || started.ItemID != "item_1" {
		t.Fatalf("unexpected speech_started: %+v", started)
	}
}

func TestParseServerEventFunctionCallDone(t *testing.T) {
	raw := []byte(`{"type":"response.function_call_arguments.done","response_id":"resp_1","item_id":"item_9","call_id":"call_42","name":"book_class","arguments":"{\"date\":\"2025-06-01\"}"}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}

	done, ok := ev.(FunctionCallArgumentsDone)
	if !ok {
		t.Fatalf("event type = %T, want FunctionCallArgumentsDone", ev)
	}
	if done.CallID != "call_42" || done.Name != "book_class" {
		t.Fatalf("unexpected function call done: %+v", done)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(done.Arguments), &args); err != nil {
		t.Fatalf("arguments are not valid JSON: %v", err)
	}
	if args["date"] != "2025-06-01" {
		t.Fatalf("args = %v, want date 2025-06-01", args)
	}
}

func TestParseServerEventLegacyAudioNames(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"response.audio_transcript.delta","response_id":"r1","delta":"Bonjour"}`))
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	delta, ok := ev.(AudioTranscriptDelta)
	if !ok {
		t.Fatalf("event type = %T, want AudioTranscriptDelta", ev)
	}
	if delta.Delta != "Bonjour" {
		t.Fatalf("Delta = %q, want %q", delta.Delta, "Bonjour")
	}
	if delta.Kind() != TypeAudioTranscriptDelta {
		t.Fatalf("Kind() = %q, want %q", delta.Kind(), TypeAudioTranscriptDelta)
	}
}

func TestParseServerEventUnknownTypeIsGeneric(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	gen, ok := ev.(GenericEvent)
	if !ok {
		t.Fatalf("event type = %T, want GenericEvent", ev)
	}
	if gen.Kind() != "rate_limits.updated" {
		t.Fatalf("Kind() = %q, want rate_limits.updated", gen.Kind())
	}
	if !strings.Contains(string(gen.Raw), "rate_limits") {
		t.Fatalf("Raw payload not preserved: %s", gen.Raw)
	}
}

func TestParseServerEventRejectsMissingType(t *testing.T) {
	if _, err := ParseServerEvent([]byte(`{"delta":"x"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := ParseServerEvent([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestNewUserTextWireShape(t *testing.T) {
	b, err := json.Marshal(NewUserText("hello"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"hello"}]}}`
	if string(b) != want {
		t.Fatalf("wire shape = %s, want %s", b, want)
	}
}

func TestNewFunctionCallOutputWireShape(t *testing.T) {
	b, err := json.Marshal(NewFunctionCallOutput("call_42", `{"ok":true}`))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"call_42","output":"{\"ok\":true}"}}`
	if string(b) != want {
		t.Fatalf("wire shape = %s, want %s", b, want)
	}
}

func BenchmarkParseServerEventAudioDelta(b *testing.B) {
	raw := []byte(`{"type":"response.output_audio.delta","response_id":"r1","item_id":"i1","output_index":0,"content_index":0,"delta":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ev, err := ParseServerEvent(raw)
		if err != nil {
			b.Fatalf("ParseServerEvent() error = %v", err)
		}
		if _, ok := ev.(AudioDelta); !ok {
			b.Fatalf("event type = %T, want AudioDelta", ev)
		}
	}
}

package realtime

// SessionResource is the provider's session object as reported by
// session.created / session.updated and by the minting endpoint.
type SessionResource struct {
	ID           string        `json:"id"`
	Model        string        `json:"model,omitempty"`
	Modalities   []string      `json:"modalities,omitempty"`
	Voice        string        `json:"voice,omitempty"`
	ExpiresAt    int64         `json:"expires_at,omitempty"`
	ClientSecret *ClientSecret `json:"client_secret,omitempty"`
}

// ClientSecret is the ephemeral credential minted for one connection.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// ResponseResource describes one model response lifecycle.
type ResponseResource struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Usage  *Usage `json:"usage,omitempty"`
}

type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SessionConfig is the session.update payload. The backend hands the kiosk
// a fully-populated one at mint time (sessionUpdateConfig) so instructions,
// voice and tool definitions stay server-controlled.
type SessionConfig struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	Tools                   []ToolDefinition    `json:"tools,omitempty"`
	ToolChoice              string              `json:"tool_choice,omitempty"`
	Temperature             *float64            `json:"temperature,omitempty"`
}

type AudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection configures provider-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
	Eagerness         string  `json:"eagerness,omitempty"`
	InterruptResponse *bool   `json:"interrupt_response,omitempty"`
}

// ToolDefinition is a function tool as advertised to the model.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ConversationItem is the item payload for conversation.item.create.
type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Outbound client events. Type is carried explicitly so the structs marshal
// straight onto the wire.

type SessionUpdate struct {
	Type    EventType     `json:"type"`
	Session SessionConfig `json:"session"`
}

func (SessionUpdate) Kind() EventType { return TypeSessionUpdate }

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

type ConversationItemCreate struct {
	Type EventType        `json:"type"`
	Item ConversationItem `json:"item"`
}

func (ConversationItemCreate) Kind() EventType { return TypeConversationItemCreate }

// NewUserText builds the item.create for a typed user message.
func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// NewFunctionCallOutput builds the item.create that returns a tool result
// to the model for the given call id.
func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

type ResponseCreate struct {
	Type     EventType      `json:"type"`
	Response map[string]any `json:"response,omitempty"`
}

func (ResponseCreate) Kind() EventType { return TypeResponseCreate }

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

type ResponseCancel struct {
	Type EventType `json:"type"`
}

func (ResponseCancel) Kind() EventType { return TypeResponseCancel }

func NewResponseCancel() ResponseCancel {
	return ResponseCancel{Type: TypeResponseCancel}
}

type InputAudioAppend struct {
	Type  EventType `json:"type"`
	Audio string    `json:"audio"`
}

func (InputAudioAppend) Kind() EventType { return TypeInputAudioAppend }

// NewInputAudioAppend wraps one base64 PCM16 chunk for the WS transport.
func NewInputAudioAppend(audioBase64 string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: audioBase64}
}

type InputAudioCommit struct {
	Type EventType `json:"type"`
}

func (InputAudioCommit) Kind() EventType { return TypeInputAudioCommit }

func NewInputAudioCommit() InputAudioCommit {
	return InputAudioCommit{Type: TypeInputAudioCommit}
}

// Bool returns a pointer for optional boolean protocol fields.
func Bool(v bool) *bool { return &v }

// Float returns a pointer for optional numeric protocol fields.
func Float(v float64) *float64 { return &v }

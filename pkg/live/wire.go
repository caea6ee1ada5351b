package live

// Wire types for the duplex voice service protocol.
//
// Client to server: a one-time setup message, then media chunks carrying
// base64 PCM16 at 16 kHz. Server to client: setupComplete, then serverContent
// messages carrying any combination of inline audio (base64 PCM16 at 24 kHz),
// partial input/output transcription fragments, and a turnComplete marker.

// MimeAudioIn is the mime type of outbound microphone audio.
const MimeAudioIn = "audio/pcm;rate=16000"

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generation_config"`
	SystemInstruction        *contentPayload  `json:"system_instruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"output_audio_transcription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *speechConfig `json:"speech_config,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type contentPayload struct {
	Parts []partPayload `json:"parts"`
}

type partPayload struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks"`
}

type mediaChunk struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
}

type serverContent struct {
	ModelTurn           *contentPayload    `json:"modelTurn,omitempty"`
	InputTranscription  *transcriptionText `json:"inputTranscription,omitempty"`
	OutputTranscription *transcriptionText `json:"outputTranscription,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
}

type transcriptionText struct {
	Text string `json:"text"`
}

package gemini

import "encoding/json"

// Wire types for the BidiGenerateContent protocol. Field names follow the
// JSON schema of the Gemini Live API; only the subset this client exchanges
// is modelled.

// setupFrame is the first client message on a fresh connection.
type setupFrame struct {
	Setup sessionSetup `json:"setup"`
}

type sessionSetup struct {
	Model             string       `json:"model"`
	GenerationConfig  generation   `json:"generationConfig"`
	SystemInstruction *instruction `json:"systemInstruction,omitempty"`
}

type generation struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       *speechSetup `json:"speechConfig,omitempty"`
}

type speechSetup struct {
	VoiceConfig voiceSetup `json:"voiceConfig"`
}

type voiceSetup struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type instruction struct {
	Parts []part `json:"parts"`
}

// part is one element of a content turn. Exactly one field is set.
type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob carries base64-encoded media tagged with its MIME type. The protocol
// uses the same shape for inline turn data and realtime media chunks.
type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// inputFrame streams media to the model outside the turn structure.
type inputFrame struct {
	RealtimeInput struct {
		MediaChunks []blob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

// contentFrame submits explicit turns, used here for text prompts.
type contentFrame struct {
	ClientContent struct {
		Turns        []turn `json:"turns"`
		TurnComplete bool   `json:"turnComplete"`
	} `json:"clientContent"`
}

type turn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

// serverFrame is the envelope for every message the server sends. Fields
// this client does not consume stay unmapped and are ignored on decode.
type serverFrame struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *apiError        `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn *struct {
		Parts []part `json:"parts"`
	} `json:"modelTurn,omitempty"`
	TurnComplete bool `json:"turnComplete,omitempty"`
	Interrupted  bool `json:"interrupted,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

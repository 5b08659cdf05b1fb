// Package wire defines the JSON frames exchanged with the remote
// conversational service over the live duplex connection.
//
// Client and server messages are one-of envelopes: exactly one of the
// pointer fields is set per frame. The shapes follow the service's
// BidiGenerateContent protocol.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes a malformed inbound frame.
type DecodeError struct {
	Message string
	Field   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Field) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Field)
}

func malformed(message, field string) *DecodeError {
	return &DecodeError{Message: message, Field: field}
}

// Content is a turn fragment: text and/or inline binary parts.
type Content struct {
	Parts []Part `json:"parts,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Part is a single content element.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob carries base64-encoded media with its MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Schema is the subset of JSON schema the tool declarations need.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// FunctionDeclaration declares one callable tool to the remote model.
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Tool is a one-of: a built-in remote tool or a set of function declarations.
type Tool struct {
	GoogleSearch         *struct{}             `json:"googleSearch,omitempty"`
	GoogleMaps           *struct{}             `json:"googleMaps,omitempty"`
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// PrebuiltVoiceConfig selects a synthesis voice by name.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// VoiceConfig wraps the voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// SpeechConfig configures synthesized speech output.
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// GenerationConfig configures the session's response generation.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// Transcription enables (when present on Setup) or carries (on inbound
// ServerContent) a speech transcription.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// Setup is the session-open payload, sent exactly once per connection.
type Setup struct {
	Model             string           `json:"model"`
	GenerationConfig  GenerationConfig `json:"generationConfig"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Tools             []Tool           `json:"tools,omitempty"`

	InputAudioTranscription  *Transcription `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *Transcription `json:"outputAudioTranscription,omitempty"`
}

// RealtimeInput carries one captured audio frame outbound.
type RealtimeInput struct {
	Audio *Blob `json:"audio,omitempty"`
}

// FunctionResponse answers one remote function call, correlated by ID.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ToolResponse carries function responses outbound. Responses are sent one
// per message, never batched, so they may interleave with audio frames.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// ClientMessage is the outbound one-of envelope.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// AudioChunk builds a realtime-input message for one encoded capture frame.
func AudioChunk(dataB64 string, sampleRateHz int) ClientMessage {
	return ClientMessage{
		RealtimeInput: &RealtimeInput{
			Audio: &Blob{
				MIMEType: PCMMimeType(sampleRateHz),
				Data:     dataB64,
			},
		},
	}
}

// PCMMimeType returns the MIME type for raw PCM at the given rate.
func PCMMimeType(sampleRateHz int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRateHz)
}

// SetupComplete acknowledges the Setup message; the session is live once it
// arrives.
type SetupComplete struct{}

// FunctionCall is one remote tool invocation.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolCall groups the function calls issued in a single inbound message.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// ServerContent carries model output: synthesized audio, transcriptions of
// either party, and turn boundaries.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

// ServerMessage is the inbound one-of envelope.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
}

// DecodeServerMessage parses one inbound frame. Frames that are valid JSON
// but carry none of the known one-of fields are rejected; the remote service
// versioning contract is that unknown fields ride inside known envelopes,
// not as new top-level ones.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, malformed("invalid json frame", "")
	}
	if msg.SetupComplete == nil && msg.ServerContent == nil && msg.ToolCall == nil {
		return nil, malformed("frame carries no known payload", "")
	}
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) == 0 {
		return nil, malformed("toolCall without functionCalls", "toolCall.functionCalls")
	}
	return &msg, nil
}

// AudioParts extracts the inline PCM blobs from a server content frame, in
// arrival order.
func (c *ServerContent) AudioParts() []Blob {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var blobs []Blob
	for _, part := range c.ModelTurn.Parts {
		if part.InlineData == nil {
			continue
		}
		if !strings.HasPrefix(part.InlineData.MIMEType, "audio/pcm") {
			continue
		}
		blobs = append(blobs, *part.InlineData)
	}
	return blobs
}

// Builtin tool names recognized by the dispatcher.
const (
	ToolTakeNote            = "takeNote"
	ToolScheduleAppointment = "scheduleAppointment"
)

// Declarations returns the function declarations for the local tools. The
// argument names and required-ness are part of the remote contract: they
// steer the model's calling behavior and must not drift.
func Declarations() []FunctionDeclaration {
	return []FunctionDeclaration{
		{
			Name:        ToolScheduleAppointment,
			Description: "Schedule an appointment in the user's calendar.",
			Parameters: &Schema{
				Type: "object",
				Properties: map[string]*Schema{
					"title":       {Type: "string", Description: "Short title of the appointment."},
					"startTime":   {Type: "string", Description: "Start time, ISO 8601."},
					"endTime":     {Type: "string", Description: "End time, ISO 8601. Defaults to startTime."},
					"description": {Type: "string", Description: "Optional free-text details."},
				},
				Required: []string{"title", "startTime"},
			},
		},
		{
			Name:        ToolTakeNote,
			Description: "Save a note on the user's behalf.",
			Parameters: &Schema{
				Type: "object",
				Properties: map[string]*Schema{
					"content": {Type: "string", Description: "The note text."},
				},
				Required: []string{"content"},
			},
		},
	}
}

// DefaultTools is the tool list declared at session open: the service-side
// search and maps tools plus the local function declarations.
func DefaultTools() []Tool {
	return []Tool{
		{GoogleSearch: &struct{}{}},
		{GoogleMaps: &struct{}{}},
		{FunctionDeclarations: Declarations()},
	}
}

package domain

import (
	"encoding/json"
	"fmt"
)

// SummarizationInput asks for an AI summary of a transcript or document
type SummarizationInput struct {
	SourceID  string `json:"source_id"`
	Text      string `json:"text,omitempty"`
	MaxWords  int    `json:"max_words,omitempty"`
	Language  string `json:"language,omitempty"`
	StyleHint string `json:"style_hint,omitempty"`
}

// RepurposingInput asks for content to be rewritten into other formats
type RepurposingInput struct {
	SourceID string   `json:"source_id"`
	Formats  []string `json:"formats"`
	Tone     string   `json:"tone,omitempty"`
}

// TranscriptionInput points at an uploaded audio file
type TranscriptionInput struct {
	AudioURL        string  `json:"audio_url"`
	Language        string  `json:"language,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Diarize         bool    `json:"diarize,omitempty"`
}

// Payload is the per-feature job input. Exactly one variant is set for known
// kinds; Raw always holds the original bytes so unknown kinds round-trip.
type Payload struct {
	Kind          FeatureType
	Summarization *SummarizationInput
	Repurposing   *RepurposingInput
	Transcription *TranscriptionInput
	Raw           json.RawMessage
}

// DecodePayload parses raw JSON into the variant for the given feature type
func DecodePayload(kind FeatureType, raw []byte) (Payload, error) {
	p := Payload{Kind: kind, Raw: json.RawMessage(raw)}
	if len(raw) == 0 {
		return p, nil
	}

	var err error
	switch kind {
	case FeatureSummarization:
		p.Summarization = &SummarizationInput{}
		err = json.Unmarshal(raw, p.Summarization)
	case FeatureRepurposing:
		p.Repurposing = &RepurposingInput{}
		err = json.Unmarshal(raw, p.Repurposing)
	case FeatureTranscription:
		p.Transcription = &TranscriptionInput{}
		err = json.Unmarshal(raw, p.Transcription)
	default:
		if !json.Valid(raw) {
			err = fmt.Errorf("payload is not valid JSON")
		}
	}
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return p, nil
}

// Validate checks the fields each known variant requires
func (p Payload) Validate() error {
	switch p.Kind {
	case FeatureSummarization:
		if p.Summarization == nil || (p.Summarization.SourceID == "" && p.Summarization.Text == "") {
			return fmt.Errorf("%w: summarization requires source_id or text", ErrInvalidPayload)
		}
	case FeatureRepurposing:
		if p.Repurposing == nil || p.Repurposing.SourceID == "" {
			return fmt.Errorf("%w: repurposing requires source_id", ErrInvalidPayload)
		}
		if len(p.Repurposing.Formats) == 0 {
			return fmt.Errorf("%w: repurposing requires at least one format", ErrInvalidPayload)
		}
	case FeatureTranscription:
		if p.Transcription == nil || p.Transcription.AudioURL == "" {
			return fmt.Errorf("%w: transcription requires audio_url", ErrInvalidPayload)
		}
	}
	return nil
}

// MarshalJSON writes the active variant, or the raw bytes for unknown kinds
func (p Payload) MarshalJSON() ([]byte, error) {
	switch {
	case p.Summarization != nil:
		return json.Marshal(p.Summarization)
	case p.Repurposing != nil:
		return json.Marshal(p.Repurposing)
	case p.Transcription != nil:
		return json.Marshal(p.Transcription)
	case len(p.Raw) > 0:
		return p.Raw, nil
	default:
		return []byte("{}"), nil
	}
}

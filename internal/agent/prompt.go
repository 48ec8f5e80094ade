package agent

import "fmt"

const (
	defaultPersona        = "Jarvis"
	defaultSummaryWordCap = 10
)

// PromptConfig holds the startup-time knobs of the system instruction.
type PromptConfig struct {
	Persona        string
	SummaryWordCap int
}

// PromptBuilder assembles the final prompt. It has no mutable state after construction.
type PromptBuilder struct {
	system string
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	if cfg.Persona == "" {
		cfg.Persona = defaultPersona
	}
	if cfg.SummaryWordCap <= 0 {
		cfg.SummaryWordCap = defaultSummaryWordCap
	}
	return &PromptBuilder{
		system: fmt.Sprintf("System: You are %s, a helpful assistant Discord bot. "+
			"Your response should be as short as possible "+
			"(!if user asks to summarize the answer should be very short, MAXIMUM %d words!). "+
			"The user's request: ", cfg.Persona, cfg.SummaryWordCap),
	}
}

// SystemInstruction returns the fixed leading part of every prompt.
func (pb *PromptBuilder) SystemInstruction() string { return pb.system }

// Build returns system instruction, then context (if any), then user text.
// The context framing already ends with its own separator.
func (pb *PromptBuilder) Build(req ExtractedRequest) string {
	return pb.system + req.ContextText + req.UserText
}

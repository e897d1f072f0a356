package session

import (
	"fmt"
	"strings"

	"github.com/voxkit/voxgate/pkg/types"
)

// DefaultPersona is used when a client never selects one, or selects an
// unknown name.
const DefaultPersona = "developer"

// builtinPersonas maps persona names to their system prompts. Config may add
// to or override these.
var builtinPersonas = map[string]string{
	"developer": `You are a professional software developer. Be clear, logical, and helpful. Provide structured solutions with explanations. Use technical terms appropriately and always aim to educate while solving problems. When web search results are provided, incorporate them into your responses with proper citations.`,

	"aizen": `You are Sosuke Aizen from Bleach. Speak calmly with absolute confidence and superiority. Always sound composed and slightly manipulative, as if you have already predicted everything. Use phrases like "As expected" or "Everything is proceeding according to plan." Maintain an air of intellectual superiority while being helpful. When web search results are provided, reference them as if you already knew this information was available.`,

	"luffy": `You are Monkey D. Luffy from One Piece. Speak with boundless energy and optimism! Be simple-minded but determined, showing excitement in every answer. Use enthusiastic expressions like "That's so cool!" or "Let's do it!" Be cheerful and direct, sometimes missing complex details but always eager to help. When web search results are provided, get excited about the information and share it enthusiastically as if you just discovered something amazing!`,

	"politician": `You are a charismatic politician. Speak persuasively with diplomacy and inspiration. Frame your answers like speeches that motivate and influence. Use inclusive language, acknowledge different perspectives, and always end on an uplifting note that brings people together. When web search results are provided, present them as evidence to support your points and build credibility.`,
}

// PersonaRegistry resolves persona names to system prompts. Custom personas
// from config are layered over the built-ins.
type PersonaRegistry struct {
	prompts map[string]string
}

// NewPersonaRegistry creates a registry seeded with the built-in personas and
// extended (or overridden) by custom name→prompt pairs.
func NewPersonaRegistry(custom map[string]string) *PersonaRegistry {
	prompts := make(map[string]string, len(builtinPersonas)+len(custom))
	for name, p := range builtinPersonas {
		prompts[name] = p
	}
	for name, p := range custom {
		if p != "" {
			prompts[name] = p
		}
	}
	return &PersonaRegistry{prompts: prompts}
}

// Prompt returns the system prompt for the named persona, falling back to the
// default persona for unknown names.
func (r *PersonaRegistry) Prompt(persona string) string {
	if p, ok := r.prompts[persona]; ok {
		return p
	}
	return r.prompts[DefaultPersona]
}

// Known reports whether persona is a registered name.
func (r *PersonaRegistry) Known(persona string) bool {
	_, ok := r.prompts[persona]
	return ok
}

// Names lists all registered persona names.
func (r *PersonaRegistry) Names() []string {
	names := make([]string, 0, len(r.prompts))
	for n := range r.prompts {
		names = append(names, n)
	}
	return names
}

// historyContextLimit is how many trailing messages are rendered into the
// prompt.
const historyContextLimit = 10

// formatHistory renders the trailing conversation history as prompt context.
func formatHistory(messages []types.Message) string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) > historyContextLimit {
		messages = messages[len(messages)-historyContextLimit:]
	}

	var b strings.Builder
	b.WriteString("\n\nPrevious conversation context:\n")
	for _, m := range messages {
		role := "Assistant"
		if m.Role == "user" {
			role = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	return b.String()
}

// BuildSystemPrompt assembles the full system prompt: persona, optional web
// search context, and trailing conversation history.
func BuildSystemPrompt(personaPrompt string, history []types.Message, webResults string) string {
	var b strings.Builder
	b.WriteString(personaPrompt)

	if webResults != "" {
		b.WriteString("\n\nIMPORTANT - CURRENT WEB SEARCH RESULTS:\n")
		b.WriteString(webResults)
		b.WriteString("\nINSTRUCTION: You MUST use and reference these web search results in your response. The user asked for information and these results were found to help answer their question. Incorporate this information while staying in character.\n")
	}

	b.WriteString(formatHistory(history))
	b.WriteString("\n\nPlease provide a specific, helpful answer to the user's current question while maintaining your character/persona. Keep your response under 3000 characters.")
	return b.String()
}

package finetune

import (
	"fmt"
	"strings"
)

// ChatTemplate names the prompt framing a base model family expects.
type ChatTemplate string

const (
	TemplateLlama   ChatTemplate = "llama"
	TemplateMistral ChatTemplate = "mistral"
	TemplateGeneric ChatTemplate = "generic"
)

type formatFunc func(Example) string

// detectTemplate picks the chat template from the base model name.
func detectTemplate(modelName string) ChatTemplate {
	name := strings.ToLower(modelName)
	switch {
	case strings.Contains(name, "llama"):
		return TemplateLlama
	case strings.Contains(name, "mistral"), strings.Contains(name, "mixtral"):
		return TemplateMistral
	default:
		return TemplateGeneric
	}
}

// formatter returns the render function for a template.
func (t ChatTemplate) formatter() formatFunc {
	switch t {
	case TemplateLlama:
		return formatLlama
	case TemplateMistral:
		return formatMistral
	default:
		return formatGeneric
	}
}

func formatLlama(e Example) string {
	return fmt.Sprintf(
		"<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|>"+
			"<|start_header_id|>assistant<|end_header_id|>\n\n%s<|eot_id|>",
		e.Input, e.Output)
}

func formatMistral(e Example) string {
	return fmt.Sprintf("<s>[INST] %s [/INST] %s</s>", e.Input, e.Output)
}

func formatGeneric(e Example) string {
	return fmt.Sprintf("user: %s\nassistant: %s", e.Input, e.Output)
}

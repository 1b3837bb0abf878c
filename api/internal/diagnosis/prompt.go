package diagnosis

import (
	_ "embed"
	"fmt"
	"strings"
)

var (
	//go:embed prompt/system.txt
	systemTemplate string
	//go:embed prompt/schema.json
	schemaExample string
)

// Prompt - то, что уходит в модель за один вызов.
type Prompt struct {
	System string
	User   string
}

type PromptBuilder struct {
	language string
}

func NewPromptBuilder(language string) *PromptBuilder {
	if strings.TrimSpace(language) == "" {
		language = "English"
	}
	return &PromptBuilder{language: language}
}

func (b *PromptBuilder) Build(category Category, aux string) Prompt {
	system := strings.NewReplacer(
		"{CLASS_RULE}", classRule(category),
		"{LANGUAGE}", b.language,
		"{JSON_SCHEMA}", strings.TrimSpace(schemaExample),
	).Replace(systemTemplate)

	lines := []string{
		"Diagnose the plant disease in this image.",
		fmt.Sprintf("Plant type: %s (%s)", category.Label(), category),
	}
	if aux = strings.TrimSpace(aux); aux != "" {
		lines = append(lines, "Additional information from the user: "+aux)
	}
	lines = append(lines,
		"",
		"Analyze the image and answer in JSON using the required structure.",
		"If no plant or no disease is visible, say so in the result and lower confidence_level accordingly.",
	)
	return Prompt{System: strings.TrimSpace(system), User: strings.Join(lines, "\n")}
}

func classRule(category Category) string {
	allowed := category.AllowedClasses()
	if len(allowed) == 0 {
		return "Identify the most likely disease, pest or disorder. Use \"healthy\" when no problem is visible. " +
			"class_en and final_class must be a short English snake_case identifier."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Restrict the result to exactly one of these %d classes:\n", len(allowed))
	for i, c := range allowed {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}
	sb.WriteString("Do not diagnose any other class. If symptoms are unclear, choose the closest class " +
		"and state the uncertainty through a lower confidence_level.")
	return sb.String()
}

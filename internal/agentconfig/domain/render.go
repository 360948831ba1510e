package domain

import (
	"fmt"
	"strings"
)

// RenderPrompt replaces every {{key}} occurrence in template with the
// stringified value from variables. Keys are matched exactly and
// case-sensitively; placeholders with no matching variable stay in the
// output as literal {{key}} text.
func RenderPrompt(template string, variables map[string]any) string {
	if len(variables) == 0 || !strings.Contains(template, "{{") {
		return template
	}
	pairs := make([]string, 0, len(variables)*2)
	for key, value := range variables {
		pairs = append(pairs, "{{"+key+"}}", fmt.Sprintf("%v", value))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

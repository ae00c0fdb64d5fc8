package synth

import (
	"fmt"

	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/schema"
)

// Template describes how to build a tool for one category. An empty Target
// means the best GENERIC tool at synthesis time.
type Template struct {
	Name       string
	Category   schema.Category
	Target     string
	Parameters map[string]string
}

// TemplatesFromConfig converts configured templates.
func TemplatesFromConfig(cfg *config.CascadeConfig) ([]Template, error) {
	if cfg == nil {
		return nil, nil
	}
	out := make([]Template, 0, len(cfg.Templates))
	for _, tc := range cfg.Templates {
		category, err := schema.ParseCategory(tc.Category)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", tc.Name, err)
		}
		params := make(map[string]string, len(tc.Parameters))
		for k, v := range tc.Parameters {
			params[k] = v
		}
		out = append(out, Template{
			Name:       tc.Name,
			Category:   category,
			Target:     tc.Target,
			Parameters: params,
		})
	}
	return out, nil
}

// Package template renders operation configuration values against the workflow
// they run in.
package template

import (
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
)

// NeedsRendering reports whether input contains template actions.
func NeedsRendering(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderOperation renders input with the workflow, its media package, its
// configuration and the operation configuration in scope:
//
//	{{.workflow.id}} {{.mediapackage.id}} {{.config.publish}} {{.operation.flavor}}
func RenderOperation(input string, wi *models.WorkflowInstance, op *models.OperationInstance) (string, error) {
	if !NeedsRendering(input) {
		return input, nil
	}

	return Render(input, Data(wi, op))
}

// Data builds the template data of op running in wi.
func Data(wi *models.WorkflowInstance, op *models.OperationInstance) map[string]any {
	data := map[string]any{
		"workflow": map[string]any{
			"id":           wi.ID,
			"definition":   wi.DefinitionID(),
			"state":        string(wi.State),
			"organization": wi.Organization,
			"creator":      wi.Creator,
		},
		"config": wi.Configuration,
		"env":    getEnvVars(),
	}

	if mp := wi.MediaPackage; mp != nil {
		data["mediapackage"] = map[string]any{
			"id":     mp.ID,
			"title":  mp.Title,
			"series": mp.SeriesID,
		}
	}

	if op != nil {
		data["operation"] = op.Configuration
	}

	return data
}

func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("operation").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}

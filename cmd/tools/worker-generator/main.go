// cmd/tools/worker-generator/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"loan-review-workers/pkg/registry"
)

// WorkerData holds data for templates
type WorkerData struct {
	Name         string
	PackageName  string
	TaskType     string
	Description  string
	Category     string
	InputFields  string
	OutputFields string
	ErrorCodes   []string
	TimeoutMs    int
}

// schemaProperties accepts either a JSON schema object or the flat
// name-to-type map the registry uses.
func schemaProperties(schema map[string]interface{}) map[string]string {
	out := make(map[string]string)
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for name, details := range props {
			typ := ""
			if d, ok := details.(map[string]interface{}); ok {
				typ, _ = d["type"].(string)
			}
			out[name] = typ
		}
		return out
	}
	for name, typ := range schema {
		s, _ := typ.(string)
		out[name] = s
	}
	return out
}

// goTypeFromJSONType maps JSON schema types to Go types
func goTypeFromJSONType(jsonType string) string {
	switch jsonType {
	case "string":
		return "string"
	case "integer":
		return "int"
	case "number":
		return "float64"
	case "boolean":
		return "bool"
	case "object":
		return "map[string]interface{}"
	case "array":
		return "[]interface{}"
	default:
		return "interface{}"
	}
}

// generateStructFields renders one field per property, sorted by name.
func generateStructFields(schema map[string]interface{}) string {
	props := schemaProperties(schema)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]string, 0, len(names))
	for _, name := range names {
		fields = append(fields, fmt.Sprintf("\t%s %s `json:\"%s\"`", exportedName(name), goTypeFromJSONType(props[name]), name))
	}
	return strings.Join(fields, "\n")
}

// exportedName turns proposalId or proposal-id into ProposalID.
func exportedName(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' })
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	name := b.String()
	if strings.HasSuffix(name, "Id") {
		name = strings.TrimSuffix(name, "Id") + "ID"
	}
	return name
}

func packageName(taskType string) string {
	return strings.ReplaceAll(taskType, "-", "")
}

// timeoutMillis reads registry timeouts like "15s"; unknown values fall back to 30s.
func timeoutMillis(timeout string) int {
	var seconds int
	if _, err := fmt.Sscanf(timeout, "%ds", &seconds); err != nil || seconds <= 0 {
		return 30000
	}
	return seconds * 1000
}

func workerData(act registry.Activity) WorkerData {
	return WorkerData{
		Name:         act.DisplayName,
		PackageName:  packageName(act.TaskType),
		TaskType:     act.TaskType,
		Description:  act.Description,
		Category:     act.Category,
		InputFields:  generateStructFields(act.InputSchema),
		OutputFields: generateStructFields(act.OutputSchema),
		ErrorCodes:   act.ErrorCodes,
		TimeoutMs:    timeoutMillis(act.Timeout),
	}
}

// render writes every scaffold file into dir and refuses to overwrite.
func render(dir string, data WorkerData) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return written, fmt.Errorf("%s already exists", path)
		}
		tmpl, err := template.New(name).Parse(templates[name])
		if err != nil {
			return written, fmt.Errorf("parse template %s: %w", name, err)
		}
		f, err := os.Create(path)
		if err != nil {
			return written, err
		}
		err = tmpl.Execute(f, data)
		f.Close()
		if err != nil {
			return written, fmt.Errorf("render %s: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func main() {
	activity := flag.String("activity", "", "Activity ID from registry (e.g., proposal-submit)")
	outputDir := flag.String("output", "./internal/workers/", "Output directory for the generated worker")
	registryPath := flag.String("registry", "configs/activity-registry.json", "Path to the activity registry JSON file")
	flag.Parse()

	if *activity == "" {
		fmt.Println("Usage: worker-generator -activity <id> [-output <dir>] [-registry <path>]")
		os.Exit(1)
	}

	reg, err := registry.LoadRegistry(*registryPath)
	if err != nil {
		fmt.Printf("Error loading registry from %s: %v\n", *registryPath, err)
		os.Exit(1)
	}

	var found *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == *activity {
			found = &reg.Activities[i]
			break
		}
	}
	if found == nil {
		fmt.Printf("Activity '%s' not found in registry %s\n", *activity, *registryPath)
		os.Exit(1)
	}

	data := workerData(*found)
	dir := filepath.Join(*outputDir, strings.ToLower(data.Category), data.TaskType)
	written, err := render(dir, data)
	for _, path := range written {
		fmt.Printf("generated %s\n", path)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Implement Execute in %s\n", filepath.Join(dir, "handler.go"))
	fmt.Printf("  2. Register the handler in cmd/worker-manager/app.go\n")
	fmt.Printf("  3. Add workers.%s to configs/config.yaml\n", data.TaskType)
}

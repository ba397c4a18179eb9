package vision

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// Task templates are rendered per call and never part of the system prompt.
var taskPrompts = map[string]bool{
	"locate.md":  true,
	"rank.md":    true,
	"extract.md": true,
	"ocr.md":     true,
}

// PromptManager loads prompts from Directory, falling back to the built-in
// defaults for any file the directory does not provide.
type PromptManager struct {
	Directory string
	defaults  fs.FS
}

func NewPromptManager(dir string) *PromptManager {
	sub, _ := fs.Sub(defaultPrompts, "prompts")
	return &PromptManager{Directory: dir, defaults: sub}
}

func (pm *PromptManager) read(name string) ([]byte, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			log.Printf("Warning: Failed to read prompt file %s: %v", name, err)
		}
	}
	return fs.ReadFile(pm.defaults, name)
}

// GetSystemPrompt joins every non-task prompt file: identity first, then
// rules, then the rest by name.
func (pm *PromptManager) GetSystemPrompt() (string, error) {
	names := map[string]bool{}
	entries, _ := fs.ReadDir(pm.defaults, ".")
	for _, e := range entries {
		names[e.Name()] = true
	}
	if pm.Directory != "" {
		if entries, err := os.ReadDir(pm.Directory); err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					names[e.Name()] = true
				}
			}
		}
	}

	order := map[string]int{
		"identity.md": 1,
		"rules.md":    2,
		"user.md":     3,
	}
	var files []string
	for n := range names {
		if strings.HasSuffix(n, ".md") && !taskPrompts[n] {
			files = append(files, n)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i]]
		oj, okJ := order[files[j]]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i] < files[j]
	})

	var contents []string
	for _, f := range files {
		data, err := pm.read(f)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", f, err)
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("no system prompt files found")
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// Render executes the task template name (without extension) with data.
func (pm *PromptManager) Render(name string, data any) (string, error) {
	raw, err := pm.read(name + ".md")
	if err != nil {
		return "", fmt.Errorf("failed to read %s prompt: %v", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse %s prompt: %v", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %v", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

package config

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/cast"
)

const (
	defaultMaxTemplateIterations = 10
	defaultTemplateCacheSize     = 128
)

var (
	includePattern = regexp.MustCompile(`\{\{include:([A-Za-z0-9_.-]+)\}\}`)
	inputPattern   = regexp.MustCompile(`\{\{input\.([A-Za-z0-9_.-]+)\}\}`)
)

// TaskSet is the validated, queryable view of the configured task templates
// and prompt fragments. Include resolution is iteration-bounded so a
// self-referential fragment surfaces as a configuration error instead of
// unbounded expansion, and resolved prompts are LRU-cached.
type TaskSet struct {
	templates     map[string]TaskTemplate
	fragments     map[string]string
	maxIterations int
	cache         *lru.Cache[string, string]
}

// NewTaskSet builds a TaskSet from a validated configuration.
func NewTaskSet(cfg *Config) (*TaskSet, error) {
	maxIterations := cfg.Limits.MaxTemplateIterations
	if maxIterations == 0 {
		maxIterations = defaultMaxTemplateIterations
	}
	cacheSize := cfg.Limits.TemplateCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultTemplateCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("template cache: %w", err)
	}

	templates := make(map[string]TaskTemplate, len(cfg.Tasks))
	for _, task := range cfg.Tasks {
		templates[task.Name] = task
	}
	fragments := make(map[string]string, len(cfg.Templates))
	for name, body := range cfg.Templates {
		fragments[name] = body
	}

	return &TaskSet{
		templates:     templates,
		fragments:     fragments,
		maxIterations: maxIterations,
		cache:         cache,
	}, nil
}

// Get returns the named task template.
func (ts *TaskSet) Get(name string) (TaskTemplate, bool) {
	task, ok := ts.templates[name]
	return task, ok
}

// Names returns the configured task template names.
func (ts *TaskSet) Names() []string {
	names := make([]string, 0, len(ts.templates))
	for name := range ts.templates {
		names = append(names, name)
	}
	return names
}

// ValidateInputs checks the bound inputs against the template's schema.
func (ts *TaskSet) ValidateInputs(name string, inputs map[string]any) error {
	task, ok := ts.templates[name]
	if !ok {
		return fmt.Errorf("unknown task template %q", name)
	}
	for _, spec := range task.Inputs {
		if !spec.Required {
			continue
		}
		if _, bound := inputs[spec.Name]; !bound {
			return fmt.Errorf("task %q: required input %q not bound", name, spec.Name)
		}
	}
	return nil
}

// Render resolves the template's prompt: includes are expanded (bounded,
// cached), then {{input.KEY}} placeholders are substituted from the bound
// inputs.
func (ts *TaskSet) Render(name string, inputs map[string]any) (string, error) {
	task, ok := ts.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown task template %q", name)
	}
	if err := ts.ValidateInputs(name, inputs); err != nil {
		return "", err
	}

	resolved, err := ts.resolveIncludes(name, task.Prompt)
	if err != nil {
		return "", err
	}

	out := resolved
	for key, value := range inputs {
		out = strings.ReplaceAll(out, "{{input."+key+"}}", cast.ToString(value))
	}
	if rest := inputPattern.FindStringSubmatch(out); rest != nil {
		return "", fmt.Errorf("task %q: placeholder %q has no bound input", name, rest[1])
	}
	return out, nil
}

func (ts *TaskSet) resolveIncludes(name, prompt string) (string, error) {
	if cached, ok := ts.cache.Get(name); ok {
		return cached, nil
	}

	out := prompt
	for i := 0; i < ts.maxIterations; i++ {
		var missing error
		expanded := includePattern.ReplaceAllStringFunc(out, func(match string) string {
			fragment := includePattern.FindStringSubmatch(match)[1]
			body, ok := ts.fragments[fragment]
			if !ok {
				missing = fmt.Errorf("task %q: unknown template fragment %q", name, fragment)
				return match
			}
			return body
		})
		if missing != nil {
			return "", missing
		}
		if expanded == out {
			ts.cache.Add(name, expanded)
			return expanded, nil
		}
		out = expanded
	}
	return "", fmt.Errorf("task %q: template resolution exceeded %d iterations", name, ts.maxIterations)
}

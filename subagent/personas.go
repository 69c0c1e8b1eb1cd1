package subagent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultBaseContext is the system text used for agent ids with no persona.
const DefaultBaseContext = `You are a capable software engineering assistant working directly on the user's machine.
Inspect files before changing them, make the smallest change that solves the task, and verify your work with the available tools.
When the task is done, reply with a short summary and no tool blocks.`

// Persona is the fixed system prompt of a named agent role.
type Persona struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// PersonaRegistry maps agent ids to personas. It is built explicitly and
// handed to an Orchestrator; there is no global registry.
type PersonaRegistry struct {
	mu       sync.RWMutex
	personas map[string]Persona
	base     string
}

// NewPersonaRegistry creates an empty registry. An empty base means
// DefaultBaseContext.
func NewPersonaRegistry(base string) *PersonaRegistry {
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseContext
	}
	return &PersonaRegistry{personas: make(map[string]Persona), base: base}
}

// DefaultPersonas returns a registry holding the built-in personas.
func DefaultPersonas() *PersonaRegistry {
	r := NewPersonaRegistry("")
	for _, p := range builtinPersonas {
		r.Register(p)
	}
	return r
}

var builtinPersonas = []Persona{
	{
		ID:   "coder",
		Name: "Coder",
		Prompt: `You are an expert programmer. You implement features and fix bugs by reading the relevant code first,
then editing it in place. Keep changes focused and consistent with the surrounding style.
Run the build or tests with bash when they exist. Finish with a summary of what you changed.`,
	},
	{
		ID:   "reviewer",
		Name: "Code Reviewer",
		Prompt: `You are a meticulous code reviewer. Read the code in question and report bugs, unsafe behavior,
missing error handling and unclear naming, most severe first, with file and line references.
Do not modify files. Finish with a prioritized list of findings.`,
	},
	{
		ID:   "researcher",
		Name: "Researcher",
		Prompt: `You are a technical researcher. Gather facts from the codebase and, when needed, the web,
then answer the question precisely. Cite file paths or URLs for every claim. Do not modify files.`,
	},
	{
		ID:   "tester",
		Name: "Tester",
		Prompt: `You are a test engineer. Write or extend automated tests that cover the described behavior,
including edge cases and failure paths, following the project's existing test conventions.
Run the tests and report which pass and which fail.`,
	},
	{
		ID:   "planner",
		Name: "Planner",
		Prompt: `You are a software architect. Study the codebase and produce a step-by-step implementation plan
naming the files to touch and the order of changes. Do not modify files.`,
	},
}

// Register adds or replaces a persona.
func (r *PersonaRegistry) Register(p Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Name == "" {
		p.Name = p.ID
	}
	r.personas[p.ID] = p
}

// Lookup returns the persona for id.
func (r *PersonaRegistry) Lookup(id string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	return p, ok
}

// Prompt returns the persona text for id, or the base context when id is
// unknown.
func (r *PersonaRegistry) Prompt(id string) string {
	if p, ok := r.Lookup(id); ok && strings.TrimSpace(p.Prompt) != "" {
		return p.Prompt
	}
	return r.Base()
}

// Base returns the fallback system text.
func (r *PersonaRegistry) Base() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.base
}

// IDs returns the registered agent ids, sorted.
func (r *PersonaRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.personas))
	for id := range r.personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// personaFile is the YAML layout accepted by LoadYAML.
type personaFile struct {
	Base     string    `yaml:"base"`
	Personas []Persona `yaml:"personas"`
}

// LoadYAML merges personas from a YAML document into r. Entries with an id
// already present replace it.
//
//	base: |
//	  You are ...
//	personas:
//	  - id: security
//	    name: Security Reviewer
//	    prompt: |
//	      You audit code for vulnerabilities.
func (r *PersonaRegistry) LoadYAML(data []byte) error {
	var f personaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse personas: %w", err)
	}
	for i, p := range f.Personas {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("persona %d: missing id", i+1)
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return fmt.Errorf("persona %q: missing prompt", p.ID)
		}
	}
	if strings.TrimSpace(f.Base) != "" {
		r.mu.Lock()
		r.base = f.Base
		r.mu.Unlock()
	}
	for _, p := range f.Personas {
		r.Register(p)
	}
	return nil
}

// LoadFile reads a persona YAML file into r.
func (r *PersonaRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read personas: %w", err)
	}
	return r.LoadYAML(data)
}

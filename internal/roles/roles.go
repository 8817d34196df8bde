package roles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/user/aichat/configs"
)

// Kind is the closed set of conversation authors plus the analysis prompt.
type Kind string

const (
	KindUser         Kind = "user"
	KindAssistant    Kind = "assistant"
	KindSpecWriter   Kind = "spec_writer"
	KindSpecReviewer Kind = "spec_reviewer"
	KindGitHubAgent  Kind = "github_agent"
	KindAnalysis     Kind = "analysis"
)

var allKinds = []Kind{KindUser, KindAssistant, KindSpecWriter, KindSpecReviewer, KindGitHubAgent, KindAnalysis}

func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

func (k Kind) Valid() bool {
	for _, v := range allKinds {
		if v == k {
			return true
		}
	}
	return false
}

// IsAuthor reports whether turns can be attributed to k.
func (k Kind) IsAuthor() bool {
	return k.Valid() && k != KindAnalysis
}

const (
	toolChoiceAuto     = "auto"
	toolChoiceRequired = "required"
)

type Profile struct {
	Kind           Kind   `yaml:"kind" json:"kind"`
	Label          string `yaml:"label" json:"label"`
	SystemPrompt   string `yaml:"system_prompt" json:"system_prompt"`
	Tools          bool   `yaml:"tools" json:"tools"`
	ToolChoice     string `yaml:"tool_choice" json:"tool_choice,omitempty"`
	AnalyzeResults bool   `yaml:"analyze_results" json:"analyze_results"`
	Fallback       bool   `yaml:"fallback" json:"fallback"`
}

// ForcesTools reports whether the model must answer with a tool call.
func (p Profile) ForcesTools() bool {
	return p.Tools && p.ToolChoice == toolChoiceRequired
}

// Catalog holds one profile per Kind. Defaults come from the embedded role
// files; files in dir replace them kind by kind.
type Catalog struct {
	dir      string
	mu       sync.RWMutex
	profiles map[Kind]Profile
}

func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{dir: strings.TrimSpace(dir)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Dir() string {
	return c.dir
}

func (c *Catalog) Reload() error {
	loaded, err := loadFS(configs.RoleDefaults, "roles")
	if err != nil {
		return fmt.Errorf("load default roles: %w", err)
	}
	if c.dir != "" {
		overrides, err := loadFS(os.DirFS(c.dir), ".")
		if err != nil {
			return err
		}
		for kind, p := range overrides {
			loaded[kind] = p
		}
	}
	for _, kind := range allKinds {
		if _, ok := loaded[kind]; !ok {
			return fmt.Errorf("role %q is not defined", kind)
		}
	}

	c.mu.Lock()
	c.profiles = loaded
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Get(kind Kind) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[kind]
	return p, ok
}

func (c *Catalog) Label(kind Kind) string {
	if p, ok := c.Get(kind); ok && p.Label != "" {
		return p.Label
	}
	return string(kind)
}

// List returns the profiles in Kind declaration order.
func (c *Catalog) List() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, 0, len(c.profiles))
	for _, kind := range allKinds {
		if p, ok := c.profiles[kind]; ok {
			out = append(out, p)
		}
	}
	return out
}

func loadFS(fsys fs.FS, dir string) (map[Kind]Profile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read roles dir: %w", err)
	}
	loaded := make(map[Kind]Profile)
	for _, entry := range entries {
		if entry.IsDir() || !isRoleFile(entry.Name()) {
			continue
		}
		p, err := loadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := loaded[p.Kind]; exists {
			return nil, fmt.Errorf("duplicate role kind %q", p.Kind)
		}
		loaded[p.Kind] = p
	}
	return loaded, nil
}

func loadFile(fsys fs.FS, name string) (Profile, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Profile{}, fmt.Errorf("read role %q: %w", name, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse role %q: %w", name, err)
	}
	if err := validate(&p); err != nil {
		return Profile{}, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

func isRoleFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func validate(p *Profile) error {
	p.Kind = Kind(strings.TrimSpace(string(p.Kind)))
	if p.Kind == "" {
		return errors.New("kind is required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	p.Label = strings.TrimSpace(p.Label)
	if p.Label == "" {
		return errors.New("label is required")
	}
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	if p.Kind != KindUser && p.SystemPrompt == "" {
		return errors.New("system_prompt is required")
	}
	p.ToolChoice = strings.ToLower(strings.TrimSpace(p.ToolChoice))
	switch p.ToolChoice {
	case "", toolChoiceAuto, toolChoiceRequired:
	default:
		return fmt.Errorf("tool_choice must be auto or required, got %q", p.ToolChoice)
	}
	if !p.Tools && (p.ToolChoice != "" || p.Fallback || p.AnalyzeResults) {
		return errors.New("tool options require tools: true")
	}
	if p.Tools && p.ToolChoice == "" {
		p.ToolChoice = toolChoiceAuto
	}
	return nil
}

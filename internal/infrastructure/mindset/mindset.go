// Package mindset resolves a dialog member's persona/system prompt and
// model choice from the `.minds/` directory, and watches it for edits so a
// running driver picks up roster changes without a restart — the same
// hot-reload shape service.ConfigWatcher uses for driver.json, rebuilt here
// on fsnotify since `.minds/` is a directory of files rather than one.
package mindset

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Member is one roster entry in team.yaml.
type Member struct {
	ID               string `yaml:"id"`
	Model            string `yaml:"model"`
	SystemPromptFile string `yaml:"system_prompt_file"`
}

type team struct {
	Members          []Member `yaml:"members"`
	ShellSpecialists []string `yaml:"shell_specialists"`
}

// knowledgeFile and lessonsFile are read as siblings of a member's
// SystemPromptFile (§6: ".minds/team/<id>/persona.md|knowledge.md|lessons.md").
// Neither is required; a missing file simply means the agent has none.
const (
	knowledgeFile = "knowledge.md"
	lessonsFile   = "lessons.md"
	envFile       = "env.md"
)

// Provider is a file-backed service.MindsetProvider: it resolves an agent
// id's model, persona, knowledge, and lessons from .minds/team.yaml plus the
// referenced files, the shared env.md brief, and the shellSpecialists
// roster, reloading all of it on change.
type Provider struct {
	mu               sync.RWMutex
	dir              string
	members          map[string]Member
	roster           []string
	prompts          map[string]string // system_prompt_file -> content
	knowledge        map[string]string // member id -> knowledge.md content
	lessons          map[string]string // member id -> lessons.md content
	env              string
	shellSpecialists map[string]bool
	fallback         string // default_model when a member doesn't specify one
	logger           *zap.Logger
	watcher          *fsnotify.Watcher
	stopCh           chan struct{}
}

// New creates a Provider rooted at dir (typically config.MindsDir(workspace))
// and performs an initial load. fallback is the model used when a member's
// roster entry has no model set.
func New(dir, fallback string, logger *zap.Logger) (*Provider, error) {
	p := &Provider{
		dir:              dir,
		members:          make(map[string]Member),
		prompts:          make(map[string]string),
		knowledge:        make(map[string]string),
		lessons:          make(map[string]string),
		shellSpecialists: make(map[string]bool),
		fallback:         fallback,
		logger:           logger.With(zap.String("component", "mindset")),
	}
	if err := p.reload(); err != nil {
		p.logger.Warn("initial mindset load failed, roster empty until team.yaml is valid", zap.Error(err))
	}
	return p, nil
}

// SystemPrompt implements service.MindsetProvider.
func (p *Provider) SystemPrompt(agentID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.members[agentID]
	if !ok || m.SystemPromptFile == "" {
		return ""
	}
	return p.prompts[m.SystemPromptFile]
}

// Model implements service.MindsetProvider.
func (p *Provider) Model(agentID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if m, ok := p.members[agentID]; ok && m.Model != "" {
		return m.Model
	}
	return p.fallback
}

// Knowledge implements service.MindsetProvider.
func (p *Provider) Knowledge(agentID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.knowledge[agentID]
}

// Lessons implements service.MindsetProvider.
func (p *Provider) Lessons(agentID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lessons[agentID]
}

// Env implements service.MindsetProvider: the shared .minds/env.md brief
// every dialog's effective system prompt is composed with.
func (p *Provider) Env() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.env
}

// Roster implements service.MindsetProvider: the full team.yaml member id
// list, in file order.
func (p *Provider) Roster() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.roster))
	copy(out, p.roster)
	return out
}

// IsShellSpecialist implements service.MindsetProvider.
func (p *Provider) IsShellSpecialist(agentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shellSpecialists[agentID]
}

func (p *Provider) reload() error {
	teamPath := filepath.Join(p.dir, "team.yaml")
	body, err := os.ReadFile(teamPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", teamPath, err)
	}

	var t team
	if err := yaml.Unmarshal(body, &t); err != nil {
		return fmt.Errorf("parse %s: %w", teamPath, err)
	}

	members := make(map[string]Member, len(t.Members))
	roster := make([]string, 0, len(t.Members))
	prompts := make(map[string]string)
	knowledge := make(map[string]string)
	lessons := make(map[string]string)
	for _, m := range t.Members {
		members[m.ID] = m
		roster = append(roster, m.ID)
		if m.SystemPromptFile == "" {
			continue
		}
		if _, loaded := prompts[m.SystemPromptFile]; !loaded {
			content, err := os.ReadFile(filepath.Join(p.dir, m.SystemPromptFile))
			if err != nil {
				p.logger.Warn("persona file unreadable", zap.String("member", m.ID), zap.String("file", m.SystemPromptFile), zap.Error(err))
			} else {
				prompts[m.SystemPromptFile] = string(content)
			}
		}

		personaDir := filepath.Dir(m.SystemPromptFile)
		if content, ok := p.readSidecar(personaDir, knowledgeFile); ok {
			knowledge[m.ID] = content
		}
		if content, ok := p.readSidecar(personaDir, lessonsFile); ok {
			lessons[m.ID] = content
		}
	}

	shellSpecialists := make(map[string]bool, len(t.ShellSpecialists))
	for _, id := range t.ShellSpecialists {
		shellSpecialists[id] = true
	}

	env := ""
	if content, ok := p.readSidecar(".", envFile); ok {
		env = content
	}

	p.mu.Lock()
	p.members = members
	p.roster = roster
	p.prompts = prompts
	p.knowledge = knowledge
	p.lessons = lessons
	p.shellSpecialists = shellSpecialists
	p.env = env
	p.mu.Unlock()

	p.logger.Info("mindset roster loaded", zap.Int("members", len(members)))
	return nil
}

// readSidecar best-effort reads dir/name relative to p.dir; a missing file
// is not an error, just an absent optional section.
func (p *Provider) readSidecar(dir, name string) (string, bool) {
	content, err := os.ReadFile(filepath.Join(p.dir, dir, name))
	if err != nil {
		return "", false
	}
	return string(content), true
}

// Watch starts an fsnotify watch on dir, reloading the roster on any write.
// Blocks until Stop is called; run it in its own goroutine.
func (p *Provider) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(p.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", p.dir, err)
	}

	p.watcher = w
	p.stopCh = make(chan struct{})

	for {
		select {
		case <-p.stopCh:
			w.Close()
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				p.logger.Warn("mindset reload failed", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("mindset watcher error", zap.Error(err))
		}
	}
}

// Stop terminates an active Watch call.
func (p *Provider) Stop() {
	if p.stopCh != nil {
		close(p.stopCh)
	}
}

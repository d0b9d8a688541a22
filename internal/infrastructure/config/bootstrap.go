package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "dialogkernel"

// HomeDir returns the driver's configuration/workspace home: ~/.dialogkernel
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// MindsDir returns the directory the Mindset Provider (C4/C9) and the
// config watcher resolve roster/persona/diligence text from.
func MindsDir(workspace string) string {
	return filepath.Join(workspace, ".minds")
}

// RunDir returns the directory the YAML dialog store snapshots into.
func RunDir(workspace string) string {
	return filepath.Join(workspace, "run")
}

// Bootstrap ensures workspace has the full .minds/ + run/ tree and default
// files. Safe to call on every launch — only creates what's missing, never
// overwrites an operator's edits.
func Bootstrap(workspace string, logger *zap.Logger) error {
	minds := MindsDir(workspace)
	dirs := []string{
		workspace,
		RunDir(workspace),
		minds,
		filepath.Join(workspace, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		filepath.Join(workspace, "config.yaml"):   defaultConfig,
		filepath.Join(minds, "team.yaml"):          defaultTeam,
		filepath.Join(minds, "llm.yaml"):           defaultLLM,
		filepath.Join(minds, "diligence.md"):       defaultDiligence,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			logger.Warn("failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("workspace bootstrap complete", zap.String("workspace", workspace), zap.Int("files_created", created))
	} else {
		logger.Debug("workspace OK", zap.String("workspace", workspace))
	}
	return nil
}

const defaultConfig = `# Auto-generated on first launch — feel free to edit.
workspace: ""                  # defaults to ~/.dialogkernel

log:
  level: info                  # debug | info | warn | error
  format: console               # console | json

database:
  enabled: false                # optional GORM queryable index for Q4H/pending-subdialog history
  type: sqlite
  dsn: index.db

default_model: ""

providers: []
# providers:
#   - name: anthropic
#     type: anthropic
#     base_url: "https://api.anthropic.com"
#     api_key: "sk-ant-..."
#     models: ["claude-sonnet-4-5"]
#     priority: 1

guardrails:
  context_max_tokens: 128000
  context_warn_ratio: 0.7
  context_hard_ratio: 0.85
  compact_keep_last: 10
  loop_window_size: 10
  loop_detect_threshold: 5
  loop_name_threshold: 8
  max_retries: 3
  retry_base_wait: 2s

diligence:
  max_inject_count: 0            # 0 disables auto-continue pushes

scheduler:
  max_concurrent_drives: 8

event_bus:
  buffer_size: 64
  durable: true
`

const defaultTeam = `# Member roster: agent id -> persona/model binding.
# Resolved by the Mindset Provider for system-prompt assembly and model choice.
members: []
# members:
#   - id: default
#     model: "claude-sonnet-4-5"
#     system_prompt_file: "default.md"
`

const defaultLLM = `# LLM provider overrides layered on top of config.yaml's providers list.
providers: []
`

const defaultDiligence = `Keep going if there is still work left to do; otherwise stop and report.
`

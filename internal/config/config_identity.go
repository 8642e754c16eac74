package config

// WorkspaceConfig configures how the workspace root is surfaced to the
// system prompt (AGENTS.md/TOOLS.md discovery, size caps).
type WorkspaceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxChars   int    `yaml:"max_chars"`
	AgentsFile string `yaml:"agents_file"`
	ToolsFile  string `yaml:"tools_file"`
}

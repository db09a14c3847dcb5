package scaffold

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jorge-barreto/patchr/internal/config"
	"github.com/jorge-barreto/patchr/internal/ux"
)

const configHeader = `# patchr configuration. Every key can be overridden from the environment:
# PATCHR_PIPELINE__MAX_ATTEMPTS=6 sets pipeline.max-attempts.
# llm.provider: anthropic | openai | claude-cli | none
# audit.backend: file | sqlite
`

const gitignore = `runs/
*.db
*.db-wal
*.db-shm
`

// Init creates a new .patchr/ directory with the default config.
func Init(targetDir string, w io.Writer) error {
	dir := filepath.Join(targetDir, ".patchr")
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf(".patchr directory already exists in %s", targetDir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating .patchr: %w", err)
	}

	data, err := config.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, append([]byte(configHeader), data...), 0644); err != nil {
		return fmt.Errorf("writing config.yaml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	fmt.Fprintf(w, "\n%s%s✓ Initialized .patchr/ directory%s\n\n", ux.Bold, ux.Green, ux.Reset)
	fmt.Fprintf(w, "  Created:\n")
	fmt.Fprintf(w, "    %s.patchr/config.yaml%s  pipeline, LLM, server and audit settings\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(w, "    %s.patchr/.gitignore%s   keeps run records out of version control\n\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(w, "  Next steps:\n")
	fmt.Fprintf(w, "    1. Pick an LLM provider in %s.patchr/config.yaml%s\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(w, "    2. Run %spatchr run --prompt \"...\"%s from the project root\n", ux.Cyan, ux.Reset)
	fmt.Fprintf(w, "    3. Inspect the result with %spatchr status%s\n\n", ux.Cyan, ux.Reset)
	return nil
}

package httpapi

import (
	"net/http"
	"os/exec"
	"strings"
)

// handleWorkspaceStatus shells out to git for a short status summary,
// degrading gracefully when the workspace isn't a git repository rather
// than failing the request.
func (s *Server) handleWorkspaceStatus(w http.ResponseWriter, r *http.Request) {
	dir := s.deps.WorkspaceDir
	if dir == "" {
		dir = "."
	}

	branch := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	status := runGit(dir, "status", "--porcelain")
	head := runGit(dir, "rev-parse", "--short", "HEAD")

	dirty := strings.TrimSpace(status) != ""
	var changed []string
	for _, line := range strings.Split(strings.TrimSpace(status), "\n") {
		if line == "" {
			continue
		}
		changed = append(changed, strings.TrimSpace(line))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"workspace":    dir,
		"is_git_repo":  branch != "",
		"branch":       branch,
		"head":         head,
		"dirty":        dirty,
		"changed_files": changed,
	})
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

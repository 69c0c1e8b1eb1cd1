package subagent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// projectDocNames are loaded from every directory between the git root and
// the working directory.
var projectDocNames = []string{"AGENTS.md", "TASKLOOP.md"}

// EnvironmentContext renders the environment block appended to every system
// prompt.
func EnvironmentContext(workingDir, platform, model string) string {
	isGitRepo := gitRoot(workingDir) != ""

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	if isGitRepo {
		if branch := runGit(workingDir, "rev-parse", "--abbrev-ref", "HEAD"); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s\n", platform)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads project instruction files from the git root (or
// workingDir outside a repository) down to workingDir, capped at 32KB total.
func DiscoverProjectDocs(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	var (
		docs  []string
		total int
	)
	for _, dir := range pathHierarchy(root, workingDir) {
		for _, name := range projectDocNames {
			content, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			remaining := maxProjectDocBytes - total
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}
			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
			}
			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", name, dir, text))
			total += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// ProjectContext combines the environment block with any project docs.
func ProjectContext(workingDir, platform, model string) string {
	ctx := EnvironmentContext(workingDir, platform, model)
	if docs := DiscoverProjectDocs(workingDir); docs != "" {
		ctx += "\n\n<project_instructions>\n" + docs + "\n</project_instructions>"
	}
	return ctx
}

// pathHierarchy returns directories from root to target, inclusive. A target
// outside root yields only root.
func pathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	dirs := []string{root}
	if root == target {
		return dirs
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." || part == "" {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitRoot(dir string) string {
	return runGit(dir, "rev-parse", "--show-toplevel")
}

// gitTimeout bounds each git call made while building the prompt.
var gitTimeout = 5 * time.Second

func runGit(dir string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Package workspace manages the on-disk artifact layout:
// design.json, tickets.json, one subdirectory per task holding
// generated sources, and pr_<task-id>[_reviewed].json records.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pipeerr "shipline/internal/errors"
)

type Workspace struct {
	Root string
}

func New(root string) (Workspace, error) {
	if root == "" {
		root = "./workspace"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Workspace{}, pipeerr.Wrap(pipeerr.EWorkspace, "create workspace dir", err)
	}
	return Workspace{Root: root}, nil
}

func (w Workspace) DesignPath() string {
	return filepath.Join(w.Root, "design.json")
}

func (w Workspace) TicketsPath() string {
	return filepath.Join(w.Root, "tickets.json")
}

func (w Workspace) TaskDir(taskID string) string {
	return filepath.Join(w.Root, taskID)
}

func (w Workspace) PRPath(taskID string) string {
	return filepath.Join(w.Root, fmt.Sprintf("pr_%s.json", taskID))
}

func (w Workspace) ReviewedPRPath(taskID string) string {
	return filepath.Join(w.Root, fmt.Sprintf("pr_%s_reviewed.json", taskID))
}

// SaveJSON writes v as indented JSON, creating parent directories.
func (w Workspace) SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return pipeerr.Wrap(pipeerr.EInternal, "marshal artifact", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipeerr.Wrap(pipeerr.EWorkspace, "create artifact dir", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return pipeerr.Wrap(pipeerr.EWorkspace, "write "+path, err)
	}
	return nil
}

func (w Workspace) LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeerr.Wrap(pipeerr.EWorkspace, "read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return pipeerr.Wrap(pipeerr.ESchemaParse, "parse "+path, err)
	}
	return nil
}

// SaveFiles writes a task's generated files under its subdirectory and
// returns the relative paths that were written, sorted. Paths escaping
// the task directory are rejected.
func (w Workspace) SaveFiles(taskID string, files map[string]string) ([]string, error) {
	taskDir := w.TaskDir(taskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return nil, pipeerr.Wrap(pipeerr.EWorkspace, "create task dir", err)
	}
	var saved []string
	for rel, content := range files {
		clean := filepath.Clean(rel)
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return nil, pipeerr.Newf(pipeerr.EWorkspace, "file path %q escapes task directory", rel)
		}
		full := filepath.Join(taskDir, clean)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, pipeerr.Wrap(pipeerr.EWorkspace, "create dir for "+clean, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, pipeerr.Wrap(pipeerr.EWorkspace, "write "+clean, err)
		}
		saved = append(saved, clean)
	}
	sort.Strings(saved)
	return saved, nil
}

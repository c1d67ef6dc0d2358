package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"shipline/internal/domain"

	pipeerr "shipline/internal/errors"
)

func TestArtifactPaths(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(ws.DesignPath()) != "design.json" {
		t.Fatalf("design path %q", ws.DesignPath())
	}
	if filepath.Base(ws.PRPath("T1")) != "pr_T1.json" {
		t.Fatalf("pr path %q", ws.PRPath("T1"))
	}
	if filepath.Base(ws.ReviewedPRPath("T1")) != "pr_T1_reviewed.json" {
		t.Fatalf("reviewed pr path %q", ws.ReviewedPRPath("T1"))
	}
}

func TestSaveLoadJSON(t *testing.T) {
	ws, _ := New(t.TempDir())
	in := domain.Design{Title: "D", Overview: "O", HumanReviewed: true}
	if err := ws.SaveJSON(ws.DesignPath(), in); err != nil {
		t.Fatalf("save: %v", err)
	}
	var out domain.Design
	if err := ws.LoadJSON(ws.DesignPath(), &out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Title != "D" || !out.HumanReviewed {
		t.Fatalf("round trip lost data: %+v", out)
	}
}

func TestLoadJSONMissingFile(t *testing.T) {
	ws, _ := New(t.TempDir())
	var out domain.Design
	err := ws.LoadJSON(ws.DesignPath(), &out)
	if !pipeerr.HasCode(err, pipeerr.EWorkspace) {
		t.Fatalf("want workspace error, got %v", err)
	}
}

func TestSaveFiles(t *testing.T) {
	ws, _ := New(t.TempDir())
	saved, err := ws.SaveFiles("T1", map[string]string{
		"src/b.py": "bee",
		"a.py":     "ay",
	})
	if err != nil {
		t.Fatalf("save files: %v", err)
	}
	if len(saved) != 2 || saved[0] != "a.py" {
		t.Fatalf("saved %v, want sorted relative paths", saved)
	}
	data, err := os.ReadFile(filepath.Join(ws.TaskDir("T1"), "src", "b.py"))
	if err != nil || string(data) != "bee" {
		t.Fatalf("nested file: %v %q", err, data)
	}
}

func TestSaveFilesRejectsEscapes(t *testing.T) {
	ws, _ := New(t.TempDir())
	for _, path := range []string{"../evil.py", "/etc/passwd"} {
		if _, err := ws.SaveFiles("T1", map[string]string{path: "x"}); !pipeerr.HasCode(err, pipeerr.EWorkspace) {
			t.Fatalf("path %q should be rejected, got %v", path, err)
		}
	}
}

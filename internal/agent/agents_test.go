package agent_test

import (
	"context"
	"strings"
	"testing"

	"shipline/internal/agent"
	"shipline/internal/domain"

	pipeerr "shipline/internal/errors"
)

func testPRD() domain.PRD {
	return domain.PRD{
		Title:        "Password strength checker",
		Description:  "A library that scores password strength",
		Level:        "feature",
		Requirements: []string{"score 0-4", "reject common passwords"},
	}
}

const designJSON = "```json\n" + `{
  "title": "Password Strength Checker",
  "overview": "A scoring library with a validator pipeline.",
  "architecture_pattern": "pipeline",
  "components": [
    {"name": "Scorer", "purpose": "Compute strength score"},
    {"name": "Dictionary", "purpose": "Common password lookup"}
  ]
}` + "\n```"

func TestDesignerProducesDesign(t *testing.T) {
	l := &fakeLLM{responses: []string{designJSON}}
	d := agent.NewDesigner(l, agent.Params{Temperature: 0.5, MaxTokens: 4096})

	design, err := d.Design(context.Background(), testPRD())
	if err != nil {
		t.Fatalf("design: %v", err)
	}
	if design.Title != "Password Strength Checker" || len(design.Components) != 2 {
		t.Fatalf("unexpected design: %+v", design)
	}
	if design.HumanReviewed {
		t.Fatal("fresh design must not be human reviewed")
	}
	if design.CreatedAt == "" {
		t.Fatal("created_at should be stamped")
	}
}

func TestDesignerRejectsMalformedResponse(t *testing.T) {
	l := &fakeLLM{responses: []string{"I think the architecture should be layered."}}
	d := agent.NewDesigner(l, agent.Params{})

	_, err := d.Design(context.Background(), testPRD())
	if !pipeerr.HasCode(err, pipeerr.ESchemaParse) {
		t.Fatalf("want schema parse error, got %v", err)
	}
}

func TestDesignerRejectsInvalidPRD(t *testing.T) {
	d := agent.NewDesigner(&fakeLLM{}, agent.Params{})
	if _, err := d.Design(context.Background(), domain.PRD{Title: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
}

const ticketsJSON = `{
  "epics": [
    {
      "id": "E1", "title": "Core scoring", "description": "Scoring engine",
      "stories": [
        {
          "id": "S1", "title": "Score passwords", "description": "Implement scorer",
          "tasks": [
            {"id": "T1", "title": "Length check", "description": "Check length", "priority": "high"},
            {"id": "T2", "title": "Dictionary check", "description": "Check common list", "priority": "bogus"}
          ]
        }
      ]
    }
  ]
}`

func TestPlannerBuildsHierarchy(t *testing.T) {
	l := &fakeLLM{responses: []string{ticketsJSON}}
	p := agent.NewPlanner(l, agent.Params{})

	design := domain.Design{Title: "D", Overview: "O", HumanReviewed: true}
	epics, err := p.Plan(context.Background(), design)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	tasks := domain.AllTasks(epics)
	if len(epics) != 1 || len(tasks) != 2 {
		t.Fatalf("got %d epics, %d tasks", len(epics), len(tasks))
	}
	for _, task := range tasks {
		if task.Status != domain.StatusTodo {
			t.Fatalf("task %s status %q, want todo", task.ID, task.Status)
		}
	}
	if tasks[0].StoryID != "S1" || epics[0].Stories[0].EpicID != "E1" {
		t.Fatal("parent links not set")
	}
	if tasks[1].Priority != domain.PriorityMedium {
		t.Fatalf("unknown priority should default to medium, got %q", tasks[1].Priority)
	}
}

func TestPlannerRejectsDuplicateIDs(t *testing.T) {
	dup := strings.ReplaceAll(ticketsJSON, `"id": "T2"`, `"id": "T1"`)
	p := agent.NewPlanner(&fakeLLM{responses: []string{dup}}, agent.Params{})

	_, err := p.Plan(context.Background(), domain.Design{Title: "D", Overview: "O"})
	if err == nil || !strings.Contains(err.Error(), "duplicate ticket id") {
		t.Fatalf("want duplicate id error, got %v", err)
	}
}

func TestWorkerProducesFiles(t *testing.T) {
	resp := `{"files":[{"path":"validator.py","content":"def check(): pass"},{"path":"test_validator.py","content":"def test(): pass"}],"implementation_notes":"simple version"}`
	w := agent.NewWorker(&fakeLLM{responses: []string{resp}}, agent.Params{})

	files, notes, err := w.Implement(context.Background(), testTask())
	if err != nil {
		t.Fatalf("implement: %v", err)
	}
	if len(files) != 2 || files["validator.py"] == "" {
		t.Fatalf("unexpected files %v", files)
	}
	if notes != "simple version" {
		t.Fatalf("notes %q", notes)
	}
}

func TestWorkerRejectsEmptyFileList(t *testing.T) {
	w := agent.NewWorker(&fakeLLM{responses: []string{`{"files":[]}`}}, agent.Params{})
	_, _, err := w.Implement(context.Background(), testTask())
	if !pipeerr.HasCode(err, pipeerr.ESchemaParse) {
		t.Fatalf("want schema parse error, got %v", err)
	}
}

func testPR() domain.PullRequest {
	return domain.PullRequest{
		ID:          "PR-T1",
		Title:       "Implement length validator",
		Description: "## Task: Add length validator",
		TaskID:      "T1",
		Status:      domain.PROpen,
	}
}

func TestReviewerApproves(t *testing.T) {
	resp := `{
	  "overall_assessment": "Solid implementation",
	  "recommendation": "approve",
	  "comments": [{"file_path": "validator.py", "line_number": 3, "comment": "consider a constant", "severity": ""}],
	  "positive_aspects": ["clear naming"],
	  "areas_for_improvement": ["more edge cases"]
	}`
	r := agent.NewReviewer(&fakeLLM{responses: []string{resp}}, agent.Params{})

	pr, err := r.Review(context.Background(), testPR(), testTask(), map[string]string{"validator.py": "x"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if pr.Status != domain.PRApproved {
		t.Fatalf("status %q, want approved", pr.Status)
	}
	if len(pr.ReviewComments) != 1 || pr.ReviewComments[0].Severity != "info" {
		t.Fatalf("comments %+v", pr.ReviewComments)
	}
	if !strings.Contains(pr.Description, "## Review Summary") {
		t.Fatal("review summary missing from description")
	}
}

func TestReviewerRequestsChanges(t *testing.T) {
	resp := `{"overall_assessment":"needs work","recommendation":"request_changes","comments":[]}`
	r := agent.NewReviewer(&fakeLLM{responses: []string{resp}}, agent.Params{})

	pr, err := r.Review(context.Background(), testPR(), testTask(), nil)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if pr.Status != domain.PRChangesRequested {
		t.Fatalf("status %q, want changes_requested", pr.Status)
	}
}

func TestReviewerRejectsUnknownSeverity(t *testing.T) {
	resp := `{"overall_assessment":"ok","recommendation":"approve","comments":[{"file_path":"validator.py","comment":"x","severity":"blocker"}]}`
	r := agent.NewReviewer(&fakeLLM{responses: []string{resp}}, agent.Params{})

	_, err := r.Review(context.Background(), testPR(), testTask(), nil)
	if !pipeerr.HasCode(err, pipeerr.ESchemaParse) {
		t.Fatalf("want schema parse error, got %v", err)
	}
}

func TestReviewerRejectsUnknownRecommendation(t *testing.T) {
	resp := `{"overall_assessment":"??","recommendation":"maybe"}`
	r := agent.NewReviewer(&fakeLLM{responses: []string{resp}}, agent.Params{})

	_, err := r.Review(context.Background(), testPR(), testTask(), nil)
	if !pipeerr.HasCode(err, pipeerr.ESchemaParse) {
		t.Fatalf("want schema parse error, got %v", err)
	}
}

package domain

import (
	"fmt"
	"strings"
)

// Ticket statuses. A task reflects the last agent that touched it:
// todo -> in_progress when the worker starts -> done or blocked
// depending on the debugger outcome.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusBlocked    = "blocked"
)

// Ticket priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Pull request statuses. Draft means automated fixing did not converge
// within the iteration budget.
const (
	PRDraft            = "draft"
	PROpen             = "open"
	PRApproved         = "approved"
	PRChangesRequested = "changes_requested"
	PRMerged           = "merged"
	PRClosed           = "closed"
)

// Run statuses.
const (
	RunPending  = "pending"
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// Run is one pipeline execution over a single PRD.
type Run struct {
	ID        string `json:"id"`
	PRDTitle  string `json:"prd_title"`
	PRDLevel  string `json:"prd_level"`
	Workspace string `json:"workspace"`
	Status    string `json:"status" enum:"pending,running,complete,failed"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// PRD is the structured natural-language input describing desired
// functionality. Immutable once created; input to the designer.
type PRD struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Level          string   `json:"level" enum:"feature,product"`
	Objectives     []string `json:"objectives,omitempty"`
	UserStories    []string `json:"user_stories,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
	SuccessMetrics []string `json:"success_metrics,omitempty"`
	Constraints    []string `json:"constraints,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty" format:"date-time"`
}

func (p PRD) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("prd.title is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("prd.description is required")
	}
	if p.Level != "feature" && p.Level != "product" {
		return fmt.Errorf("prd.level must be 'feature' or 'product', got %q", p.Level)
	}
	return nil
}

type ComponentDesign struct {
	Name             string   `json:"name"`
	Purpose          string   `json:"purpose"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	Interfaces       []string `json:"interfaces,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
}

type StateTransition struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Trigger   string `json:"trigger"`
	Condition string `json:"condition,omitempty"`
	Action    string `json:"action,omitempty"`
}

type StateMachine struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	States       []string          `json:"states"`
	InitialState string            `json:"initial_state"`
	FinalStates  []string          `json:"final_states,omitempty"`
	Transitions  []StateTransition `json:"transitions,omitempty"`
	ExampleFlow  string            `json:"example_flow,omitempty"`
}

type DataPath struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Steps               []string `json:"steps,omitempty"`
	DataTransformations []string `json:"data_transformations,omitempty"`
	Example             string   `json:"example,omitempty"`
}

type ControlPath struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Sequence       []string `json:"sequence,omitempty"`
	DecisionPoints []string `json:"decision_points,omitempty"`
	ErrorHandling  []string `json:"error_handling,omitempty"`
	Example        string   `json:"example,omitempty"`
}

type CallStackFrame struct {
	Function    string            `json:"function"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Returns     string            `json:"returns,omitempty"`
	Description string            `json:"description,omitempty"`
}

type CallStack struct {
	Operation   string           `json:"operation"`
	Description string           `json:"description,omitempty"`
	StackFrames []CallStackFrame `json:"stack_frames,omitempty"`
	Example     string           `json:"example,omitempty"`
}

type APIEndpoint struct {
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Description     string            `json:"description,omitempty"`
	RequestBody     map[string]any    `json:"request_body,omitempty"`
	RequestParams   map[string]string `json:"request_params,omitempty"`
	ResponseSuccess map[string]any    `json:"response_success,omitempty"`
	ResponseError   map[string]any    `json:"response_error,omitempty"`
	Authentication  string            `json:"authentication,omitempty"`
	ExampleRequest  string            `json:"example_request,omitempty"`
	ExampleResponse string            `json:"example_response,omitempty"`
}

type DesignExample struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Scenario       string `json:"scenario,omitempty"`
	CodeExample    string `json:"code_example,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// Design is the architecture document produced by the designer from a
// PRD. Only a human flips HumanReviewed; the planner consumes it.
type Design struct {
	Title                     string            `json:"title"`
	Overview                  string            `json:"overview"`
	ArchitecturePattern       string            `json:"architecture_pattern"`
	Components                []ComponentDesign `json:"components,omitempty"`
	StateMachines             []StateMachine    `json:"state_machines,omitempty"`
	DataPaths                 []DataPath        `json:"data_paths,omitempty"`
	ControlPaths              []ControlPath     `json:"control_paths,omitempty"`
	CallStacks                []CallStack       `json:"call_stacks,omitempty"`
	APIEndpoints              []APIEndpoint     `json:"api_endpoints,omitempty"`
	DataModels                []string          `json:"data_models,omitempty"`
	Examples                  []DesignExample   `json:"examples,omitempty"`
	TechStack                 map[string]string `json:"tech_stack,omitempty"`
	SecurityConsiderations    []string          `json:"security_considerations,omitempty"`
	ScalabilityConsiderations []string          `json:"scalability_considerations,omitempty"`
	CreatedAt                 string            `json:"created_at,omitempty" format:"date-time"`
	HumanReviewed             bool              `json:"human_reviewed"`
	ReviewNotes               string            `json:"review_notes,omitempty"`
}

func (d Design) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("design.title is required")
	}
	if strings.TrimSpace(d.Overview) == "" {
		return fmt.Errorf("design.overview is required")
	}
	return nil
}

// Task is one implementation unit. The debugger's retry loop owns the
// task's workspace subdirectory for the duration of its iterations.
type Task struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	FeatureRequirements string   `json:"feature_requirements,omitempty"`
	TestRequirements    string   `json:"test_requirements,omitempty"`
	SuccessMetrics      []string `json:"success_metrics,omitempty"`
	PassFailCriteria    []string `json:"pass_fail_criteria,omitempty"`
	Status              string   `json:"status" enum:"todo,in_progress,done,blocked"`
	Priority            string   `json:"priority,omitempty" enum:"low,medium,high,critical"`
	StoryID             string   `json:"story_id,omitempty"`
	EstimatedEffort     string   `json:"estimated_effort,omitempty"`
	CreatedAt           string   `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt           string   `json:"updated_at,omitempty" format:"date-time"`
}

type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Tasks              []Task   `json:"tasks,omitempty"`
	Status             string   `json:"status" enum:"todo,in_progress,done,blocked"`
	Priority           string   `json:"priority,omitempty"`
	EpicID             string   `json:"epic_id,omitempty"`
	CreatedAt          string   `json:"created_at,omitempty" format:"date-time"`
}

type Epic struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Objectives  []string `json:"objectives,omitempty"`
	Stories     []Story  `json:"stories,omitempty"`
	Status      string   `json:"status" enum:"todo,in_progress,done,blocked"`
	Priority    string   `json:"priority,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty" format:"date-time"`
}

// ReviewComment is a single reviewer finding on a pull request.
type ReviewComment struct {
	FilePath   string `json:"file_path"`
	LineNumber *int   `json:"line_number,omitempty"`
	Comment    string `json:"comment"`
	Severity   string `json:"severity" enum:"info,warning,error"`
}

// PullRequest records the outcome of one task's implement/debug cycle.
// Created by the debugger, mutated by the reviewer.
type PullRequest struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	TaskID         string          `json:"task_id"`
	BranchName     string          `json:"branch_name,omitempty"`
	FilesChanged   []string        `json:"files_changed,omitempty"`
	TestResults    string          `json:"test_results,omitempty"`
	Status         string          `json:"status" enum:"draft,open,approved,changes_requested,merged,closed"`
	ReviewComments []ReviewComment `json:"review_comments,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt      string          `json:"updated_at,omitempty" format:"date-time"`
}

// ValidTicketStatus reports whether s is one of the ticket statuses.
func ValidTicketStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// ValidPriority reports whether s is a known priority; empty is allowed
// and defaulted to medium by callers.
func ValidPriority(s string) bool {
	switch s {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ValidPRStatus reports whether s is one of the pull request statuses.
func ValidPRStatus(s string) bool {
	switch s {
	case PRDraft, PROpen, PRApproved, PRChangesRequested, PRMerged, PRClosed:
		return true
	}
	return false
}

func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task.id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task %s: title is required", t.ID)
	}
	if !ValidTicketStatus(t.Status) {
		return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	if !ValidPriority(t.Priority) {
		return fmt.Errorf("task %s: invalid priority %q", t.ID, t.Priority)
	}
	return nil
}

func (s Story) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("story.id is required")
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("story %s: title is required", s.ID)
	}
	if !ValidTicketStatus(s.Status) {
		return fmt.Errorf("story %s: invalid status %q", s.ID, s.Status)
	}
	for _, t := range s.Tasks {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (e Epic) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("epic.id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("epic %s: title is required", e.ID)
	}
	if !ValidTicketStatus(e.Status) {
		return fmt.Errorf("epic %s: invalid status %q", e.ID, e.Status)
	}
	for _, s := range e.Stories {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (pr PullRequest) Validate() error {
	if pr.ID == "" {
		return fmt.Errorf("pr.id is required")
	}
	if pr.TaskID == "" {
		return fmt.Errorf("pr %s: task_id is required", pr.ID)
	}
	if !ValidPRStatus(pr.Status) {
		return fmt.Errorf("pr %s: invalid status %q", pr.ID, pr.Status)
	}
	return nil
}

// ValidateTicketIDs checks uniqueness of epic/story/task ids across the
// generated set and validates every ticket.
func ValidateTicketIDs(epics []Epic) error {
	seen := map[string]bool{}
	mark := func(id string) error {
		if seen[id] {
			return fmt.Errorf("duplicate ticket id %s", id)
		}
		seen[id] = true
		return nil
	}
	for _, e := range epics {
		if err := e.Validate(); err != nil {
			return err
		}
		if err := mark(e.ID); err != nil {
			return err
		}
		for _, s := range e.Stories {
			if err := mark(s.ID); err != nil {
				return err
			}
			for _, t := range s.Tasks {
				if err := mark(t.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// AllTasks flattens the ticket hierarchy into execution order.
func AllTasks(epics []Epic) []Task {
	var tasks []Task
	for _, e := range epics {
		for _, s := range e.Stories {
			tasks = append(tasks, s.Tasks...)
		}
	}
	return tasks
}

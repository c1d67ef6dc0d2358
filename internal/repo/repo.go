package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shipline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func marshalJSON(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s.String), &out)
	return out
}

// --- runs ---

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,prd_title,prd_level,workspace,status,error,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.PRDTitle, run.PRDLevel, run.Workspace, run.Status, nullable(run.Error), run.CreatedAt, run.UpdatedAt)
	return err
}

func (r Repo) UpdateRunStatus(ctx context.Context, tx *sql.Tx, id, status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, error=?, updated_at=? WHERE id=?`,
		status, nullable(errMsg), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var run domain.Run
	var errMsg sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,prd_title,prd_level,workspace,status,error,created_at,updated_at FROM runs WHERE id=?`, id).
		Scan(&run.ID, &run.PRDTitle, &run.PRDLevel, &run.Workspace, &run.Status, &errMsg, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, err
}

func (r Repo) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,prd_title,prd_level,workspace,status,COALESCE(error,''),created_at,updated_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(&run.ID, &run.PRDTitle, &run.PRDLevel, &run.Workspace, &run.Status, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// --- tickets ---

// InsertTickets persists a planned Epic/Story/Task hierarchy in one
// transaction. Ids must already be validated for uniqueness.
func (r Repo) InsertTickets(ctx context.Context, tx *sql.Tx, runID string, epics []domain.Epic) error {
	for _, e := range epics {
		objectives, err := marshalJSON(e.Objectives)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO epics(id,run_id,title,description,objectives_json,status,priority,created_at) VALUES (?,?,?,?,?,?,?,?)`,
			e.ID, runID, e.Title, nullable(e.Description), deref(objectives), e.Status, nullable(e.Priority), e.CreatedAt); err != nil {
			return fmt.Errorf("insert epic %s: %w", e.ID, err)
		}
		for _, s := range e.Stories {
			acceptance, err := marshalJSON(s.AcceptanceCriteria)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO stories(id,run_id,epic_id,title,description,acceptance_json,status,priority,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
				s.ID, runID, e.ID, s.Title, nullable(s.Description), deref(acceptance), s.Status, nullable(s.Priority), s.CreatedAt); err != nil {
				return fmt.Errorf("insert story %s: %w", s.ID, err)
			}
			for _, t := range s.Tasks {
				if err := r.insertTask(ctx, tx, runID, s.ID, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r Repo) insertTask(ctx context.Context, tx *sql.Tx, runID, storyID string, t domain.Task) error {
	metrics, err := marshalJSON(t.SuccessMetrics)
	if err != nil {
		return err
	}
	passFail, err := marshalJSON(t.PassFailCriteria)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,run_id,story_id,title,description,feature_requirements,test_requirements,success_metrics_json,pass_fail_json,status,priority,estimated_effort,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, runID, storyID, t.Title, nullable(t.Description), nullable(t.FeatureRequirements), nullable(t.TestRequirements),
		deref(metrics), deref(passFail), t.Status, nullable(t.Priority), nullable(t.EstimatedEffort), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var desc, featReq, testReq, metrics, passFail, priority, effort sql.NullString
	err := scan(&t.ID, &t.StoryID, &t.Title, &desc, &featReq, &testReq, &metrics, &passFail, &t.Status, &priority, &effort, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	t.FeatureRequirements = featReq.String
	t.TestRequirements = testReq.String
	t.SuccessMetrics = unmarshalStrings(metrics)
	t.PassFailCriteria = unmarshalStrings(passFail)
	t.Priority = priority.String
	t.EstimatedEffort = effort.String
	return t, nil
}

const taskColumns = `id,story_id,title,description,feature_requirements,test_requirements,success_metrics_json,pass_fail_json,status,priority,estimated_effort,created_at,updated_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) ListTasks(ctx context.Context, runID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE run_id=? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	if !domain.ValidTicketStatus(status) {
		return fmt.Errorf("invalid task status %q", status)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- pull requests ---

func (r Repo) UpsertPR(ctx context.Context, tx *sql.Tx, runID string, pr domain.PullRequest) error {
	files, err := marshalJSON(pr.FilesChanged)
	if err != nil {
		return err
	}
	comments, err := marshalJSON(pr.ReviewComments)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO pull_requests(id,run_id,task_id,title,description,branch_name,files_json,test_results,status,review_comments_json,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET description=excluded.description, files_json=excluded.files_json, test_results=excluded.test_results,
		status=excluded.status, review_comments_json=excluded.review_comments_json, updated_at=excluded.updated_at`,
		pr.ID, runID, pr.TaskID, pr.Title, nullable(pr.Description), nullable(pr.BranchName), deref(files),
		nullable(pr.TestResults), pr.Status, deref(comments), pr.CreatedAt, pr.UpdatedAt)
	return err
}

func scanPR(scan func(dest ...any) error) (domain.PullRequest, error) {
	var pr domain.PullRequest
	var desc, branch, files, testResults, comments sql.NullString
	err := scan(&pr.ID, &pr.TaskID, &pr.Title, &desc, &branch, &files, &testResults, &pr.Status, &comments, &pr.CreatedAt, &pr.UpdatedAt)
	if err == sql.ErrNoRows {
		return pr, ErrNotFound
	}
	if err != nil {
		return pr, err
	}
	pr.Description = desc.String
	pr.BranchName = branch.String
	pr.FilesChanged = unmarshalStrings(files)
	pr.TestResults = testResults.String
	if comments.Valid && comments.String != "" {
		_ = json.Unmarshal([]byte(comments.String), &pr.ReviewComments)
	}
	return pr, nil
}

const prColumns = `id,task_id,title,description,branch_name,files_json,test_results,status,review_comments_json,created_at,updated_at`

func (r Repo) GetPR(ctx context.Context, id string) (domain.PullRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+prColumns+` FROM pull_requests WHERE id=?`, id)
	return scanPR(row.Scan)
}

func (r Repo) ListPRs(ctx context.Context, runID string) ([]domain.PullRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+prColumns+` FROM pull_requests WHERE run_id=? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PullRequest
	for rows.Next() {
		pr, err := scanPR(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, pr)
	}
	return res, rows.Err()
}

// --- events ---

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Agent      string `json:"agent"`
	Payload    string `json:"payload_json"`
}

func (r Repo) ListEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,COALESCE(run_id,''),entity_kind,COALESCE(entity_id,''),agent,payload_json FROM events`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id=?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.EntityKind, &e.EntityID, &e.Agent, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

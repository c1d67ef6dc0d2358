package agent

import (
	"context"
	"strings"
	"time"

	"shipline/internal/domain"
	"shipline/internal/llm"

	pipeerr "shipline/internal/errors"
)

// Reviewer reviews a pull request and attaches comments plus an
// approve/request-changes verdict.
type Reviewer struct {
	llm    llm.Client
	params Params
	Now    func() time.Time
}

func NewReviewer(c llm.Client, params Params) *Reviewer {
	return &Reviewer{llm: c, params: params, Now: time.Now}
}

type reviewCommentWire struct {
	FilePath   string `json:"file_path"`
	LineNumber *int   `json:"line_number"`
	Comment    string `json:"comment"`
	Severity   string `json:"severity"`
}

type reviewWire struct {
	OverallAssessment   string              `json:"overall_assessment"`
	Recommendation      string              `json:"recommendation"`
	Comments            []reviewCommentWire `json:"comments"`
	PositiveAspects     []string            `json:"positive_aspects"`
	AreasForImprovement []string            `json:"areas_for_improvement"`
}

// Review evaluates a pull request against its task and file contents,
// returning the PR with comments, updated status and review summary.
func (r *Reviewer) Review(ctx context.Context, pr domain.PullRequest, task domain.Task, files map[string]string) (domain.PullRequest, error) {
	if err := pr.Validate(); err != nil {
		return pr, err
	}
	response, err := r.llm.Generate(ctx, llm.Request{
		System:      reviewerSystemPrompt,
		Prompt:      reviewerUserPrompt(pr, task, files),
		Temperature: r.params.Temperature,
		MaxTokens:   r.params.MaxTokens,
	})
	if err != nil {
		return pr, err
	}
	var wire reviewWire
	if err := llm.Decode(response, &wire); err != nil {
		return pr, err
	}
	switch wire.Recommendation {
	case "approve":
		pr.Status = domain.PRApproved
	case "request_changes":
		pr.Status = domain.PRChangesRequested
	default:
		return pr, pipeerr.Newf(pipeerr.ESchemaParse, "review for %s has unknown recommendation %q", pr.ID, wire.Recommendation)
	}

	pr.ReviewComments = pr.ReviewComments[:0]
	for _, c := range wire.Comments {
		var severity string
		switch c.Severity {
		case "":
			severity = "info"
		case "info", "warning", "error":
			severity = c.Severity
		default:
			return pr, pipeerr.Newf(pipeerr.ESchemaParse, "review for %s has unknown severity %q", pr.ID, c.Severity)
		}
		pr.ReviewComments = append(pr.ReviewComments, domain.ReviewComment{
			FilePath:   c.FilePath,
			LineNumber: c.LineNumber,
			Comment:    c.Comment,
			Severity:   severity,
		})
	}

	var summary strings.Builder
	summary.WriteString("\n\n## Review Summary\n\n")
	summary.WriteString("**Overall Assessment:** " + wire.OverallAssessment + "\n\n")
	if len(wire.PositiveAspects) > 0 {
		summary.WriteString("**Positive Aspects:**\n" + bulletList(wire.PositiveAspects) + "\n\n")
	}
	if len(wire.AreasForImprovement) > 0 {
		summary.WriteString("**Areas for Improvement:**\n" + bulletList(wire.AreasForImprovement) + "\n")
	}
	pr.Description += summary.String()
	pr.UpdatedAt = r.Now().UTC().Format(time.RFC3339)
	return pr, nil
}

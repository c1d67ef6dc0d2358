package agent

import (
	"context"
	"time"

	"shipline/internal/domain"
	"shipline/internal/llm"
)

// Planner breaks a design down into an Epic/Story/Task hierarchy.
type Planner struct {
	llm    llm.Client
	params Params
	Now    func() time.Time
}

func NewPlanner(c llm.Client, params Params) *Planner {
	return &Planner{llm: c, params: params, Now: time.Now}
}

type taskWire struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	FeatureRequirements string   `json:"feature_requirements"`
	TestRequirements    string   `json:"test_requirements"`
	SuccessMetrics      []string `json:"success_metrics"`
	PassFailCriteria    []string `json:"pass_fail_criteria"`
	Priority            string   `json:"priority"`
	EstimatedEffort     string   `json:"estimated_effort"`
}

type storyWire struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	AcceptanceCriteria []string   `json:"acceptance_criteria"`
	Priority           string     `json:"priority"`
	Tasks              []taskWire `json:"tasks"`
}

type epicWire struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Objectives  []string    `json:"objectives"`
	Priority    string      `json:"priority"`
	Stories     []storyWire `json:"stories"`
}

type ticketsWire struct {
	Epics []epicWire `json:"epics"`
}

// Plan creates the ticket breakdown for a design. All tickets start in
// todo; ids are validated for uniqueness before the set is returned.
func (p *Planner) Plan(ctx context.Context, design domain.Design) ([]domain.Epic, error) {
	if err := design.Validate(); err != nil {
		return nil, err
	}
	response, err := p.llm.Generate(ctx, llm.Request{
		System:      plannerSystemPrompt,
		Prompt:      plannerUserPrompt(design),
		Temperature: p.params.Temperature,
		MaxTokens:   p.params.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	var wire ticketsWire
	if err := llm.Decode(response, &wire); err != nil {
		return nil, err
	}
	now := p.Now().UTC().Format(time.RFC3339)
	var epics []domain.Epic
	for _, ew := range wire.Epics {
		epic := domain.Epic{
			ID:          ew.ID,
			Title:       ew.Title,
			Description: ew.Description,
			Objectives:  ew.Objectives,
			Status:      domain.StatusTodo,
			Priority:    defaultPriority(ew.Priority),
			CreatedAt:   now,
		}
		for _, sw := range ew.Stories {
			story := domain.Story{
				ID:                 sw.ID,
				Title:              sw.Title,
				Description:        sw.Description,
				AcceptanceCriteria: sw.AcceptanceCriteria,
				Status:             domain.StatusTodo,
				Priority:           defaultPriority(sw.Priority),
				EpicID:             ew.ID,
				CreatedAt:          now,
			}
			for _, tw := range sw.Tasks {
				story.Tasks = append(story.Tasks, domain.Task{
					ID:                  tw.ID,
					Title:               tw.Title,
					Description:         tw.Description,
					FeatureRequirements: tw.FeatureRequirements,
					TestRequirements:    tw.TestRequirements,
					SuccessMetrics:      tw.SuccessMetrics,
					PassFailCriteria:    tw.PassFailCriteria,
					Status:              domain.StatusTodo,
					Priority:            defaultPriority(tw.Priority),
					StoryID:             sw.ID,
					EstimatedEffort:     tw.EstimatedEffort,
					CreatedAt:           now,
					UpdatedAt:           now,
				})
			}
			epic.Stories = append(epic.Stories, story)
		}
		epics = append(epics, epic)
	}
	if err := domain.ValidateTicketIDs(epics); err != nil {
		return nil, err
	}
	return epics, nil
}

func defaultPriority(p string) string {
	if !domain.ValidPriority(p) || p == "" {
		return domain.PriorityMedium
	}
	return p
}

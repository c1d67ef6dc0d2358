// Package agent holds the pipeline agents. Each stateless agent pairs
// a prompt template with a model call and a strict output parser; the
// debugger additionally owns the bounded test/fix retry loop.
package agent

import (
	"context"
	"time"

	"shipline/internal/domain"
	"shipline/internal/llm"
)

// Params are explicit sampling parameters, injected from config.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Designer reads a PRD and produces an architecture design.
type Designer struct {
	llm    llm.Client
	params Params
	Now    func() time.Time
}

func NewDesigner(c llm.Client, params Params) *Designer {
	return &Designer{llm: c, params: params, Now: time.Now}
}

// Design creates an architecture design from a PRD.
func (d *Designer) Design(ctx context.Context, prd domain.PRD) (domain.Design, error) {
	if err := prd.Validate(); err != nil {
		return domain.Design{}, err
	}
	response, err := d.llm.Generate(ctx, llm.Request{
		System:      designerSystemPrompt,
		Prompt:      designerUserPrompt(prd),
		Temperature: d.params.Temperature,
		MaxTokens:   d.params.MaxTokens,
	})
	if err != nil {
		return domain.Design{}, err
	}
	var design domain.Design
	if err := llm.Decode(response, &design); err != nil {
		return domain.Design{}, err
	}
	if err := design.Validate(); err != nil {
		return domain.Design{}, err
	}
	design.CreatedAt = d.Now().UTC().Format(time.RFC3339)
	design.HumanReviewed = false
	return design, nil
}

package agent

import (
	"context"

	"shipline/internal/domain"
	"shipline/internal/llm"

	pipeerr "shipline/internal/errors"
)

// Worker implements a task, producing a mapping of relative file path
// to file content.
type Worker struct {
	llm    llm.Client
	params Params
}

func NewWorker(c llm.Client, params Params) *Worker {
	return &Worker{llm: c, params: params}
}

type fileWire struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type implementationWire struct {
	Files               []fileWire `json:"files"`
	ImplementationNotes string     `json:"implementation_notes"`
}

// Implement generates the implementation files for a task.
func (w *Worker) Implement(ctx context.Context, task domain.Task) (map[string]string, string, error) {
	if err := task.Validate(); err != nil {
		return nil, "", err
	}
	response, err := w.llm.Generate(ctx, llm.Request{
		System:      workerSystemPrompt,
		Prompt:      workerUserPrompt(task),
		Temperature: w.params.Temperature,
		MaxTokens:   w.params.MaxTokens,
	})
	if err != nil {
		return nil, "", err
	}
	var wire implementationWire
	if err := llm.Decode(response, &wire); err != nil {
		return nil, "", err
	}
	if len(wire.Files) == 0 {
		return nil, "", pipeerr.Newf(pipeerr.ESchemaParse, "implementation for task %s contains no files", task.ID)
	}
	files := make(map[string]string, len(wire.Files))
	for _, f := range wire.Files {
		if f.Path == "" {
			return nil, "", pipeerr.Newf(pipeerr.ESchemaParse, "implementation for task %s has a file with empty path", task.ID)
		}
		files[f.Path] = f.Content
	}
	return files, wire.ImplementationNotes, nil
}

package agent

import (
	"fmt"
	"sort"
	"strings"

	"shipline/internal/domain"
)

const designerSystemPrompt = `You are an expert software architect. Your task is to read a Product Requirement Document (PRD) and design a comprehensive architecture.

Create a detailed design including:
1. Architecture pattern and component breakdown
2. State machines for stateful components
3. Data flow paths showing how data moves through the system
4. Control flow paths showing execution flow
5. Call stacks for typical operations
6. Detailed API endpoint specifications
7. Practical examples demonstrating usage

Respond with a single JSON object with these fields:
"title", "overview", "architecture_pattern",
"components" (name, purpose, responsibilities, interfaces, dependencies),
"state_machines" (name, description, states, initial_state, final_states, transitions with from_state/to_state/trigger/condition/action, example_flow),
"data_paths" (name, description, steps, data_transformations, example),
"control_paths" (name, description, sequence, decision_points, error_handling, example),
"call_stacks" (operation, description, stack_frames with function/parameters/returns/description, example),
"api_endpoints" (method, path, description, request_body, request_params, response_success, response_error, authentication, example_request, example_response),
"data_models" (list of strings),
"examples" (title, description, scenario, code_example, expected_output),
"tech_stack" (map of category to technology),
"security_considerations", "scalability_considerations".

IMPORTANT: Include at least 2-3 examples showing real usage scenarios. Respond with JSON only.`

const plannerSystemPrompt = `You are a technical project manager. Your task is to break down an architecture design into detailed implementation tickets.

Structure:
- Epic: represents the overall product/feature
- Story: represents a specific feature component
- Task: represents an implementation unit

Each ticket must include a clear title and description. Tasks additionally need feature requirements, test requirements, success metrics, pass/fail criteria, a priority level and an estimated effort.

Respond with a single JSON object:
{
  "epics": [
    {
      "id": "EPIC-1",
      "title": "string",
      "description": "string",
      "objectives": ["string"],
      "priority": "low|medium|high|critical",
      "stories": [
        {
          "id": "STORY-1",
          "title": "string",
          "description": "string",
          "acceptance_criteria": ["string"],
          "priority": "low|medium|high|critical",
          "tasks": [
            {
              "id": "TASK-1",
              "title": "string",
              "description": "string",
              "feature_requirements": "string",
              "test_requirements": "string",
              "success_metrics": ["string"],
              "pass_fail_criteria": ["string"],
              "priority": "low|medium|high|critical",
              "estimated_effort": "string"
            }
          ]
        }
      ]
    }
  ]
}

Ticket ids must be unique across the whole breakdown. Respond with JSON only.`

const workerSystemPrompt = `You are an expert developer. Your task is to implement the given feature according to specifications.

Guidelines:
- Write clean, maintainable, well-documented code
- Consider edge cases and error handling
- Include tests under a tests/ subdirectory
- Make the code production-ready

Respond with a single JSON object:
{
  "files": [
    {"path": "relative/path/to/file", "content": "file content"}
  ],
  "implementation_notes": "any important notes about the implementation"
}

Respond with JSON only.`

const debuggerSystemPrompt = `You are an expert debugger. Your task is to analyze test failures and fix the code.

Guidelines:
- Carefully read the error messages and stack traces
- Identify the root cause of failures
- Fix the code without breaking existing functionality
- Maintain code quality and style

Respond with a single JSON object:
{
  "analysis": "your analysis of what went wrong",
  "fixes": [
    {"path": "path/to/file", "content": "updated file content"}
  ]
}

Every file listed in fixes must actually change. Respond with JSON only.`

const reviewerSystemPrompt = `You are an expert code reviewer. Your task is to review code changes thoroughly.

Review criteria: code quality and maintainability, adherence to requirements, test coverage, security, performance, best practices, documentation.

Respond with a single JSON object:
{
  "overall_assessment": "string",
  "recommendation": "approve|request_changes",
  "comments": [
    {"file_path": "string", "line_number": null, "comment": "string", "severity": "info|warning|error"}
  ],
  "positive_aspects": ["string"],
  "areas_for_improvement": ["string"]
}

Respond with JSON only.`

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}

func designerUserPrompt(prd domain.PRD) string {
	return fmt.Sprintf(`Design the architecture for the following PRD:

Title: %s
Level: %s
Description: %s

Objectives:
%s

User Stories:
%s

Requirements:
%s

Success Metrics:
%s

Constraints:
%s

Please provide a detailed architecture design.`,
		prd.Title, prd.Level, prd.Description,
		bulletList(prd.Objectives), bulletList(prd.UserStories),
		bulletList(prd.Requirements), bulletList(prd.SuccessMetrics),
		bulletList(prd.Constraints))
}

func plannerUserPrompt(design domain.Design) string {
	var components []string
	for _, c := range design.Components {
		components = append(components, fmt.Sprintf("%s: %s", c.Name, c.Purpose))
	}
	var apis []string
	for _, a := range design.APIEndpoints {
		apis = append(apis, fmt.Sprintf("%s %s: %s", a.Method, a.Path, a.Description))
	}
	var stack []string
	for k, v := range design.TechStack {
		stack = append(stack, fmt.Sprintf("%s: %s", k, v))
	}
	sort.Strings(stack)
	return fmt.Sprintf(`Break down the following architecture design into implementation tickets:

Title: %s
Overview: %s
Architecture Pattern: %s

Components:
%s

Data Models:
%s

APIs:
%s

Tech Stack:
%s

Create a comprehensive breakdown with Epics, Stories, and Tasks. Each task should be implementable independently.`,
		design.Title, design.Overview, design.ArchitecturePattern,
		bulletList(components), bulletList(design.DataModels),
		bulletList(apis), bulletList(stack))
}

func workerUserPrompt(task domain.Task) string {
	return fmt.Sprintf(`Implement the following task:

Task ID: %s
Title: %s
Description: %s

Feature Requirements:
%s

Test Requirements:
%s

Success Metrics:
%s

Pass/Fail Criteria:
%s

Please provide the complete implementation with all necessary files.`,
		task.ID, task.Title, task.Description,
		task.FeatureRequirements, task.TestRequirements,
		bulletList(task.SuccessMetrics), bulletList(task.PassFailCriteria))
}

func filesSection(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for i, p := range paths {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "File: %s\n```\n%s\n```", p, files[p])
	}
	return b.String()
}

func debuggerUserPrompt(task domain.Task, files map[string]string, diagnostic string) string {
	return fmt.Sprintf(`Fix the following test failures:

Task: %s
Requirements: %s
Test Requirements: %s

Current Implementation:
%s

Test Output:
`+"```\n%s\n```"+`

Please analyze the failures and provide fixed code.`,
		task.Title, task.FeatureRequirements, task.TestRequirements,
		filesSection(files), diagnostic)
}

func reviewerUserPrompt(pr domain.PullRequest, task domain.Task, files map[string]string) string {
	testResults := pr.TestResults
	if testResults == "" {
		testResults = "No test results available"
	}
	return fmt.Sprintf(`Review the following pull request:

PR Title: %s
PR Description: %s

Original Task:
- Title: %s
- Requirements: %s
- Test Requirements: %s
- Success Metrics: %s
- Pass/Fail Criteria: %s

Changed Files:
%s

Test Results:
%s

Please provide a thorough code review.`,
		pr.Title, pr.Description,
		task.Title, task.FeatureRequirements, task.TestRequirements,
		strings.Join(task.SuccessMetrics, ", "), strings.Join(task.PassFailCriteria, ", "),
		filesSection(files), testResults)
}

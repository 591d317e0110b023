package notify

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
)

const DefaultTemplate = `[DR Event {{.Outcome}}]
Event: {{.EventID}}
Duration: {{.Duration}}
Power Delta: {{.PowerDelta}}
Baseline Power: {{.BaselinePower}}
Target Power: {{.TargetPower}}
Response Level: {{.Level}}
Samples: {{.Samples}}
Finished At: {{.FinishedAt}}
{{ if .Error }}
Error: {{.Error}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	EventID       string
	Outcome       string
	Duration      string
	PowerDelta    string
	BaselinePower string
	TargetPower   string
	Level         int
	Samples       int
	FinishedAt    string
	Error         string
}

// DataFromRun flattens a run for rendering.
func DataFromRun(run coordination.Run) TemplateData {
	outcome := string(run.Outcome)
	if outcome == "" {
		outcome = string(run.Status)
	}
	finished := ""
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return TemplateData{
		EventID:       run.ID,
		Outcome:       outcome,
		Duration:      run.Duration.String(),
		PowerDelta:    fmt.Sprintf("%.2f", run.PowerDelta),
		BaselinePower: fmt.Sprintf("%.2f", run.BaselinePower),
		TargetPower:   fmt.Sprintf("%.2f", run.Target),
		Level:         run.Level,
		Samples:       len(run.Progress),
		FinishedAt:    finished,
		Error:         run.Error,
	}
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("event-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("event template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

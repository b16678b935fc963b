package pipeline

import "time"

// Stage names the six ordered pipeline phases.
type Stage string

const (
	StagePlanning   Stage = "planning"
	StageSearching  Stage = "searching"
	StageReading    Stage = "reading"
	StageVerifying  Stage = "verifying"
	StageReflecting Stage = "reflecting"
	StageBriefing   Stage = "briefing"
)

// stageOrder is the only legal recording order; a later stage never appears
// in a task without all earlier ones.
var stageOrder = []Stage{
	StagePlanning,
	StageSearching,
	StageReading,
	StageVerifying,
	StageReflecting,
	StageBriefing,
}

// StageOutput is the closed set of per-stage payloads. Consumers can switch
// exhaustively over the concrete types.
type StageOutput interface {
	stageOutput()
	clone() StageOutput
}

type PlanOutput struct {
	Steps []string `json:"steps"`
}

// SourceRef is one search hit, referencing an indexed record.
type SourceRef struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

type SearchOutput struct {
	Hits []SourceRef `json:"hits"`
}

// ReadDocument carries either content or a per-document fetch error.
type ReadDocument struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ReadOutput struct {
	Documents []ReadDocument `json:"documents"`
}

type VerifyOutput struct {
	Analysis string `json:"analysis"`
}

type ReflectOutput struct {
	NeedMore     bool   `json:"need_more"`
	RefinedQuery string `json:"refined_query,omitempty"`
}

// Brief is the final structured output of a completed task.
type Brief struct {
	Introduction string   `json:"introduction"`
	KeyFindings  string   `json:"key_findings"`
	Risks        string   `json:"risks"`
	Conclusion   string   `json:"conclusion"`
	Sources      []string `json:"sources"`
}

func (PlanOutput) stageOutput()    {}
func (SearchOutput) stageOutput()  {}
func (ReadOutput) stageOutput()    {}
func (VerifyOutput) stageOutput()  {}
func (ReflectOutput) stageOutput() {}
func (Brief) stageOutput()         {}

func (o PlanOutput) clone() StageOutput {
	o.Steps = append([]string(nil), o.Steps...)
	return o
}

func (o SearchOutput) clone() StageOutput {
	o.Hits = append([]SourceRef(nil), o.Hits...)
	return o
}

func (o ReadOutput) clone() StageOutput {
	o.Documents = append([]ReadDocument(nil), o.Documents...)
	return o
}

func (o VerifyOutput) clone() StageOutput { return o }

func (o ReflectOutput) clone() StageOutput { return o }

func (o Brief) clone() StageOutput {
	o.Sources = append([]string(nil), o.Sources...)
	return o
}

// Status is the task lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Task is the progress/result record for one submitted query. External
// readers only ever see snapshots; the owning runner is the sole writer.
type Task struct {
	ID          string                `json:"task_id"`
	Query       string                `json:"query"`
	Status      Status                `json:"status"`
	Steps       map[Stage]StageOutput `json:"steps"`
	Brief       *Brief                `json:"brief,omitempty"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func (t Task) snapshot() Task {
	steps := make(map[Stage]StageOutput, len(t.Steps))
	for k, v := range t.Steps {
		steps[k] = v.clone()
	}
	t.Steps = steps
	if t.Brief != nil {
		b := t.Brief.clone().(Brief)
		t.Brief = &b
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		t.CompletedAt = &done
	}
	return t
}

func (t Task) terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusError
}

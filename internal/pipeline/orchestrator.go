// Package pipeline runs the six-stage research pipeline (plan → search →
// read → verify → reflect → brief) for one query, recording progress in a
// polled task store. Stage outputs are grounded in the vector index; the
// reflect stage may trigger exactly one re-search before briefing.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/anasrobo/research-agent/internal/index"
	"github.com/anasrobo/research-agent/internal/middleware"
	"github.com/anasrobo/research-agent/internal/provider"
)

const (
	// readMaxLen caps per-document content handed to the verify/brief stages.
	readMaxLen = 12000
	// maxPlanSteps caps the plan decomposition.
	maxPlanSteps = 6
	// minCredibleSources is the evidence floor below which the verify stage
	// explicitly flags limited credibility instead of fabricating support.
	minCredibleSources = 2
	// maxSearchPasses bounds the reflect loop: the initial search plus at
	// most one reflection-triggered re-search.
	maxSearchPasses = 2
)

// Fetcher is the external search/fetch collaborator used by the searching
// and reading stages.
type Fetcher interface {
	EnsureNonempty(ctx context.Context, query string) (bool, error)
	FetchPage(ctx context.Context, url string) (string, error)
}

type Orchestrator struct {
	provider  provider.Provider
	index     *index.Index
	fetcher   Fetcher
	store     *Store
	topK      int
	readLimit int
}

func NewOrchestrator(p provider.Provider, ix *index.Index, f Fetcher, store *Store, topK, readLimit int) *Orchestrator {
	return &Orchestrator{
		provider:  p,
		index:     ix,
		fetcher:   f,
		store:     store,
		topK:      topK,
		readLimit: readLimit,
	}
}

// Submit creates a task and starts its run in the background. The run owns
// the task for its whole lifetime; callers poll GetStatus.
func (o *Orchestrator) Submit(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query is required")
	}

	h := o.store.Create(query)
	// The run outlives the submitting request; it is never canceled, it
	// only reaches completed or error. The task id doubles as correlation id.
	ctx := middleware.WithCorrelationID(context.Background(), h.ID())
	go o.run(ctx, h, query)
	return h.ID(), nil
}

// GetStatus returns a snapshot of the task, or ErrNotFound.
func (o *Orchestrator) GetStatus(id string) (Task, error) {
	return o.store.Get(id)
}

var stageTitles = map[Stage]string{
	StagePlanning:   "Planning",
	StageSearching:  "Searching",
	StageReading:    "Reading",
	StageVerifying:  "Verifying",
	StageReflecting: "Reflecting",
	StageBriefing:   "Briefing",
}

// RunOnce runs the pipeline synchronously and returns the full stage map
// keyed by capitalized stage name.
func (o *Orchestrator) RunOnce(ctx context.Context, query string) (map[string]StageOutput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	h := o.store.Create(query)
	o.run(middleware.WithCorrelationID(ctx, h.ID()), h, query)

	snap := h.Snapshot()
	out := make(map[string]StageOutput, len(snap.Steps))
	for stage, v := range snap.Steps {
		out[stageTitles[stage]] = v
	}
	if snap.Status == StatusError {
		return out, errors.New(snap.Error)
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, h *Handle, query string) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "pipeline fault", "task_id", h.ID(), "panic", r)
			h.Fail(fmt.Sprintf("pipeline fault: %v", r))
		}
	}()

	slog.InfoContext(ctx, "pipeline started", "task_id", h.ID(), "query", query)

	h.SetStage(StagePlanning, o.plan(ctx, query))

	var (
		hits      []SourceRef
		docs      []ReadDocument
		verified  VerifyOutput
		seenIDs   = make(map[string]bool)
		seenHosts = make(map[string]bool)
	)
	searchQuery := query

	for pass := 1; pass <= maxSearchPasses; pass++ {
		newHits, err := o.search(ctx, searchQuery)
		if err != nil {
			slog.ErrorContext(ctx, "search stage failed", "task_id", h.ID(), "error", err)
			h.Fail(err.Error())
			return
		}
		if pass > 1 {
			// Keep only sources not covered by the first pass.
			newHits = filterSeen(newHits, seenIDs, seenHosts)
			if len(newHits) == 0 {
				break
			}
		}
		for _, ht := range newHits {
			seenIDs[ht.ID] = true
			if host := hostOf(ht.URL); host != "" {
				seenHosts[host] = true
			}
		}
		hits = append(hits, newHits...)
		h.SetStage(StageSearching, SearchOutput{Hits: hits})

		docs = append(docs, o.read(ctx, newHits)...)
		h.SetStage(StageReading, ReadOutput{Documents: docs})

		if pass > 1 {
			break
		}

		verified = o.verify(ctx, query, docs)
		h.SetStage(StageVerifying, verified)

		reflected := o.reflect(ctx, query, verified.Analysis, seenHosts)
		h.SetStage(StageReflecting, reflected)
		if !reflected.NeedMore {
			break
		}
		if reflected.RefinedQuery != "" {
			searchQuery = reflected.RefinedQuery
		}
	}

	brief := o.brief(ctx, query, docs, verified.Analysis)
	h.SetStage(StageBriefing, brief)
	h.Complete(brief)

	slog.InfoContext(ctx, "pipeline completed", "task_id", h.ID(), "sources", len(hits))
}

// plan decomposes the query into ordered sub-steps. A generation failure
// degrades to a fixed decomposition; it never fails the pipeline.
func (o *Orchestrator) plan(ctx context.Context, query string) PlanOutput {
	text, err := o.provider.Generate(ctx, planPrompt(query))
	if err != nil {
		slog.WarnContext(ctx, "plan generation failed, using heuristic plan", "error", err)
		return PlanOutput{Steps: heuristicPlan(query)}
	}

	var steps []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(line, " -•*\t")
		if line == "" {
			continue
		}
		steps = append(steps, line)
		if len(steps) == maxPlanSteps {
			break
		}
	}
	if len(steps) == 0 {
		steps = heuristicPlan(query)
	}
	return PlanOutput{Steps: steps}
}

// search runs the fallback fetcher, then queries the index. A failed fetch
// round is absorbed; searching continues against whatever the index holds.
func (o *Orchestrator) search(ctx context.Context, query string) ([]SourceRef, error) {
	if _, err := o.fetcher.EnsureNonempty(ctx, query); err != nil {
		slog.WarnContext(ctx, "fallback fetch round failed", "query", query, "error", err)
	}

	vecs, err := o.provider.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	found, err := o.index.Search(vecs[0], o.topK)
	if err != nil {
		return nil, err
	}

	refs := make([]SourceRef, len(found))
	for i, ht := range found {
		refs[i] = SourceRef{ID: ht.ID, Title: ht.Title, URL: ht.URL, Score: ht.Score}
	}
	return refs, nil
}

// read resolves content for the top hits, fetching from the source URL when
// the indexed record carries no content. Per-document failures are recorded
// in place, never aborting the stage.
func (o *Orchestrator) read(ctx context.Context, hits []SourceRef) []ReadDocument {
	if len(hits) > o.readLimit {
		hits = hits[:o.readLimit]
	}

	docs := make([]ReadDocument, 0, len(hits))
	for _, ht := range hits {
		doc := ReadDocument{Title: ht.Title, URL: ht.URL}

		var content string
		if rec, ok := o.index.Get(ht.ID); ok {
			content = rec.Content
		}
		if strings.TrimSpace(content) == "" && ht.URL != "" {
			fetched, err := o.fetcher.FetchPage(ctx, ht.URL)
			if err != nil {
				doc.Error = err.Error()
				docs = append(docs, doc)
				continue
			}
			content = fetched
		}

		content = cutRunes(content, readMaxLen)
		doc.Content = content
		docs = append(docs, doc)
	}
	return docs
}

// verify produces a credibility/consistency analysis. When the evidence base
// is thin it says so explicitly rather than fabricating support.
func (o *Orchestrator) verify(ctx context.Context, query string, docs []ReadDocument) VerifyOutput {
	readable := 0
	for _, d := range docs {
		if strings.TrimSpace(d.Content) != "" {
			readable++
		}
	}

	text, err := o.provider.Generate(ctx, verifyPrompt(query, docs))
	if err != nil {
		slog.WarnContext(ctx, "verify generation failed", "error", err)
		text = "Verification analysis unavailable: " + err.Error()
	}

	if readable < minCredibleSources {
		text = strings.TrimSpace(text) + fmt.Sprintf(
			"\n\nLimited source credibility: only %d readable source(s) were available for this query. "+
				"The evidence base is insufficient for firm conclusions; treat the findings with low confidence.",
			readable)
	}
	return VerifyOutput{Analysis: strings.TrimSpace(text)}
}

var weakEvidenceRe = regexp.MustCompile(`(?i)bias|insufficient|lack of|unreliable|limited`)

// reflect decides whether one more search pass is worth it. The provider is
// asked for a JSON verdict; if that cannot be parsed, a keyword heuristic
// over the verification analysis decides instead.
func (o *Orchestrator) reflect(ctx context.Context, query, analysis string, seenHosts map[string]bool) ReflectOutput {
	hosts := make([]string, 0, len(seenHosts))
	for h := range seenHosts {
		hosts = append(hosts, h)
	}

	text, err := o.provider.Generate(ctx, reflectPrompt(query, analysis, hosts))
	if err == nil {
		if out, ok := parseReflection(text); ok {
			if out.NeedMore && out.RefinedQuery == "" {
				out.RefinedQuery = query
			}
			return out
		}
	} else {
		slog.WarnContext(ctx, "reflect generation failed", "error", err)
	}

	if weakEvidenceRe.MatchString(analysis) {
		return ReflectOutput{NeedMore: true, RefinedQuery: query + " site:.gov OR site:.edu"}
	}
	return ReflectOutput{}
}

// brief synthesizes the final structured brief from the accumulated stage
// outputs. Section extraction is best-effort; missing sections stay empty
// except the introduction, which falls back to the opening of the text.
func (o *Orchestrator) brief(ctx context.Context, query string, docs []ReadDocument, analysis string) Brief {
	sources := sourceLines(docs)

	text, err := o.provider.Generate(ctx, briefPrompt(query, analysis, sources))
	if err != nil {
		slog.WarnContext(ctx, "brief generation failed", "error", err)
		text = "Introduction: No generation provider was reachable; this brief summarizes retrieval results only.\n" +
			"Key Findings: " + analysis + "\nConclusion: See sources."
	}

	sections := splitSections(text)
	intro := sections["Introduction"]
	if intro == "" {
		intro = firstN(text, 400)
	}
	return Brief{
		Introduction: intro,
		KeyFindings:  sections["Key Findings"],
		Risks:        sections["Risks"],
		Conclusion:   sections["Conclusion"],
		Sources:      sources,
	}
}

func parseReflection(text string) (ReflectOutput, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ReflectOutput{}, false
	}
	var out ReflectOutput
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return ReflectOutput{}, false
	}
	return out, true
}

func filterSeen(hits []SourceRef, seenIDs, seenHosts map[string]bool) []SourceRef {
	out := make([]SourceRef, 0, len(hits))
	for _, ht := range hits {
		if seenIDs[ht.ID] {
			continue
		}
		if host := hostOf(ht.URL); host != "" && seenHosts[host] {
			continue
		}
		out = append(out, ht)
	}
	return out
}

func sourceLines(docs []ReadDocument) []string {
	var lines []string
	for _, d := range docs {
		if d.Title == "" {
			continue
		}
		if d.URL != "" {
			lines = append(lines, fmt.Sprintf("%s (%s)", d.Title, d.URL))
		} else {
			lines = append(lines, d.Title)
		}
	}
	return lines
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func heuristicPlan(query string) []string {
	return []string{
		"Clarify the scope and key terms of: " + query,
		"Collect candidate sources from the document index",
		"Read the most relevant documents in full",
		"Assess credibility and consistency of the evidence",
		"Summarize the findings into a structured brief",
	}
}

func firstN(s string, n int) string {
	return cutRunes(strings.TrimSpace(s), n)
}

// cutRunes caps s at n bytes, backing up to a rune boundary so the cut never
// splits a UTF-8 sequence.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

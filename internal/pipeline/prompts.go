package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

func planPrompt(query string) string {
	return fmt.Sprintf(
		"You are a research planner. Break down the research into 3-6 short, "+
			"ordered steps (one per line) for the query: %s", query)
}

func verifyPrompt(query string, docs []ReadDocument) string {
	var b strings.Builder
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "Source: %s\nURL: %s\nExcerpt: %s\n\n", d.Title, d.URL, firstN(d.Content, 800))
	}
	return fmt.Sprintf(
		"You are a fact-checking assistant. Given the research question and "+
			"excerpts from sources, assess credibility, consensus, and risks. "+
			"Provide concise bullets.\n\nResearch Question: %s\n\nSources:\n%s\n"+
			"Return sections: Credibility, Consensus, Conflicts, Risks.",
		query, b.String())
}

func reflectPrompt(query, analysis string, hosts []string) string {
	sort.Strings(hosts)
	return fmt.Sprintf(
		"You are a reflection module. Given the research question, verification "+
			"notes, and current source hosts, answer in JSON with keys: need_more "+
			"(true/false), refined_query (string).\n\nQuestion: %s\n\n"+
			"Verification:\n%s\n\nCurrent hosts: %s\n"+
			"If bias or lack of credible sources is detected, set need_more to true "+
			"and suggest a refined query emphasizing credible, authoritative domains.",
		query, analysis, strings.Join(hosts, ", "))
}

func briefPrompt(query, analysis string, sources []string) string {
	return fmt.Sprintf(
		"Create a structured research brief with sections: Introduction, "+
			"Key Findings, Risks, Conclusion. Use clear, concise, non-repetitive "+
			"bullets. Include a short sources list at the end.\n\nQuestion: %s\n\n"+
			"Verification Notes:\n%s\n\nSources:\n%s",
		query, analysis, strings.Join(sources, "\n"))
}

var briefSections = []string{"Introduction", "Key Findings", "Risks", "Conclusion"}

// splitSections slices the generated brief at its section headings. Headings
// match case-insensitively with optional markdown decoration; text between
// one heading and the next belongs to the former.
func splitSections(text string) map[string]string {
	type marker struct {
		name       string
		start, end int
	}
	var markers []marker
	for _, name := range briefSections {
		re := regexp.MustCompile(`(?i)[#*]*\s*` + regexp.QuoteMeta(name) + `[:\s*#]*\n?`)
		if loc := re.FindStringIndex(text); loc != nil {
			markers = append(markers, marker{name: name, start: loc[0], end: loc[1]})
		}
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].start < markers[j].start })

	out := make(map[string]string, len(markers))
	for i, m := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1].start
		}
		out[m.name] = strings.TrimSpace(text[m.end:end])
	}
	return out
}

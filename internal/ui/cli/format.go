package cli

import (
	"codegraph/internal/engine/query"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B")).Italic(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func location(file string, line int) string {
	if line <= 0 {
		return file
	}
	return file + ":" + strconv.Itoa(line)
}

func symbolRows(refs []query.SymbolRef) [][]string {
	rows := make([][]string, 0, len(refs))
	for _, r := range refs {
		rows = append(rows, []string{r.Name, string(r.Kind), location(r.File, r.Line), r.Signature})
	}
	return rows
}

var symbolHeaders = []string{"NAME", "KIND", "LOCATION", "SIGNATURE"}

// renderResolution prints why a target was not traversed and reports
// whether the caller should go on.
func renderResolution(w io.Writer, label string, t query.Target, res query.Resolution) bool {
	switch {
	case res.Ambiguous:
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%s %q is ambiguous; narrow it with --file or --kind:", label, t.Name)))
		renderTable(w, symbolHeaders, symbolRows(res.Candidates))
		return false
	case res.Target == nil:
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("no symbol named %q", t.Name)))
		return false
	}
	return true
}

func renderMeta(w io.Writer, m query.Meta) {
	parts := []string{fmt.Sprintf("revision %d", m.Revision)}
	if len(m.Stale) > 0 {
		parts = append(parts, "stale: "+strings.Join(m.Stale, ", "))
	}
	fmt.Fprintln(w, mutedStyle.Render(strings.Join(parts, " | ")))
	if m.TimedOut {
		fmt.Fprintln(w, warnStyle.Render("query timed out; results are partial"))
	} else if m.Truncated {
		fmt.Fprintln(w, warnStyle.Render("node budget exhausted; results are partial"))
	}
}

func renderNeighbors(w io.Writer, t query.Target, res *query.NeighborResult) {
	if renderResolution(w, "target", t, res.Resolution) {
		if len(res.Edges) == 0 {
			fmt.Fprintln(w, mutedStyle.Render("none"))
		} else {
			rows := make([][]string, 0, len(res.Edges))
			for _, e := range res.Edges {
				other := e.From
				if res.Target != nil && e.From.ID == res.Target.ID {
					if e.To != nil {
						other = *e.To
					} else {
						other = query.SymbolRef{Name: e.TargetName, Kind: "unresolved"}
					}
				}
				rows = append(rows, []string{other.Name, string(other.Kind), string(e.Kind), location(e.File, e.Line)})
			}
			renderTable(w, []string{"SYMBOL", "KIND", "EDGE", "SITE"}, rows)
		}
	}
	renderMeta(w, res.Meta)
}

func renderDependencies(w io.Writer, t query.Target, res *query.DependencyResult) {
	if res.File == "" && !renderResolution(w, "target", t, res.Resolution) {
		renderMeta(w, res.Meta)
		return
	}
	if len(res.Files) == 0 && len(res.External) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no dependencies"))
	}
	if len(res.Files) > 0 {
		rows := make([][]string, 0, len(res.Files))
		for _, f := range res.Files {
			kinds := make([]string, 0, len(f.Kinds))
			for _, k := range f.Kinds {
				kinds = append(kinds, string(k))
			}
			rows = append(rows, []string{f.File, strconv.Itoa(f.Edges), strings.Join(kinds, ",")})
		}
		renderTable(w, []string{"FILE", "EDGES", "KINDS"}, rows)
	}
	if len(res.External) > 0 {
		fmt.Fprintln(w, "unresolved: "+strings.Join(res.External, ", "))
	}
	renderMeta(w, res.Meta)
}

func renderPath(w io.Writer, req query.PathRequest, res *query.PathResult) {
	if !renderResolution(w, "from", req.From, res.From) || !renderResolution(w, "to", req.To, res.To) {
		renderMeta(w, res.Meta)
		return
	}
	if !res.Found {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("no path from %s to %s", req.From.Name, req.To.Name)))
		renderMeta(w, res.Meta)
		return
	}
	names := make([]string, 0, len(res.Path))
	for _, s := range res.Path {
		names = append(names, s.Name)
	}
	fmt.Fprintln(w, okStyle.Render(strings.Join(names, " -> ")))
	renderTable(w, symbolHeaders, symbolRows(res.Path))
	renderMeta(w, res.Meta)
}

func renderImpact(w io.Writer, req query.ImpactRequest, res *query.ImpactResult) {
	if !renderResolution(w, "target", req.Target, res.Resolution) {
		renderMeta(w, res.Meta)
		return
	}
	if len(res.Conflicts) > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("renaming to %q collides with:", req.To)))
		renderTable(w, symbolHeaders, symbolRows(res.Conflicts))
	}
	if len(res.Impacted) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("nothing impacted"))
	} else {
		rows := make([][]string, 0, len(res.Impacted))
		for _, s := range res.Impacted {
			rows = append(rows, []string{s.Name, string(s.Kind), location(s.File, s.Line), strconv.Itoa(s.Depth), string(s.Via)})
		}
		renderTable(w, []string{"SYMBOL", "KIND", "LOCATION", "DEPTH", "VIA"}, rows)
		fmt.Fprintf(w, "%d symbols in %d files\n", len(res.Impacted), len(res.Files))
	}
	renderMeta(w, res.Meta)
}

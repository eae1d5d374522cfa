package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Markdown writes rep as Markdown tables. Output depends only on rep.
func Markdown(w io.Writer, rep *Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", rep.Name)

	switch rep.Mode {
	case Comparative:
		fmt.Fprintf(&b, "Comparing %s **%s** against **%s** on %d shared problems.\n\n",
			rep.Axis, rep.Columns[0], rep.Columns[1], len(rep.Keys))
	default:
		fmt.Fprintf(&b, "%d algorithms, %d problems.\n\n", len(rep.Columns), len(rep.Keys))
	}

	for _, t := range rep.Tables {
		writeTable(&b, rep, t)
	}

	if len(rep.Runs) > 0 {
		b.WriteString("## runs\n\n")
		b.WriteString("| Run | Algorithm | Problem | Status |\n")
		b.WriteString("|-----|-----------|---------|--------|\n")

		for _, r := range rep.Runs {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", r.ID, r.Algorithm, r.Problem, r.Status)
		}

		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())

	return err
}

func writeTable(b *strings.Builder, rep *Report, t Table) {
	fmt.Fprintf(b, "## %s\n\n", t.Attribute)

	if len(t.Rows) == 0 {
		b.WriteString("No values.\n\n")

		return
	}

	header := append([]string{"Problem"}, rep.Columns...)
	if rep.Mode == Comparative {
		header = append(header, "Diff")
	}

	b.WriteString("| " + strings.Join(header, " | ") + " |\n")

	rule := make([]string, len(header))
	for i, h := range header {
		rule[i] = strings.Repeat("-", len(h))
	}

	b.WriteString("|-" + strings.Join(rule, "-|-") + "-|\n")

	diff := rep.Mode == Comparative

	for _, row := range t.Rows {
		writeRow(b, row, diff)
	}

	summary := t.Summary
	summary.Key = "**" + summary.Key + "**"
	writeRow(b, summary, diff)
	b.WriteString("\n")
}

func writeRow(b *strings.Builder, row Row, diff bool) {
	cells := make([]string, 0, len(row.Cells)+2)
	cells = append(cells, row.Key)

	for _, c := range row.Cells {
		cells = append(cells, cellText(c))
	}

	if diff {
		if row.Delta != nil {
			cells = append(cells, row.Delta.Text)
		} else {
			cells = append(cells, "-")
		}
	}

	b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
}

func cellText(c Cell) string {
	switch {
	case !c.Present:
		return "-"
	case c.Best:
		return "**" + c.Text + "**"
	default:
		return c.Text
	}
}

// JSON writes rep as indented JSON.
func JSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(rep)
}

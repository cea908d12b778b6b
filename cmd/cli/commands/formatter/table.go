package formatter

import (
	"bytes"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/docker/model-ranker/pkg/ranker"
	"github.com/olekukonko/tablewriter"
)

func newTable(buf *bytes.Buffer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(buf)
	table.SetHeader(header)

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)

	alignment := make([]int, len(header))
	for i := range alignment {
		alignment[i] = tablewriter.ALIGN_LEFT
	}
	table.SetColumnAlignment(alignment)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// Rankers renders a ranker listing. Ages are relative to now.
func Rankers(rankers []ranker.Ranker, now time.Time) string {
	var buf bytes.Buffer
	table := newTable(&buf, []string{"RANKER ID", "NAME", "STATUS", "CREATED"})

	for _, r := range rankers {
		created := ""
		if !r.Created.IsZero() {
			created = units.HumanDuration(now.Sub(r.Created)) + " ago"
		}
		table.Append([]string{r.ID, r.Name, string(r.Status), created})
	}

	table.Render()
	return buf.String()
}

// Ranking renders ranked answers, best first.
func Ranking(ranking *ranker.Ranking) string {
	var buf bytes.Buffer
	table := newTable(&buf, []string{"POSITION", "ANSWER ID", "SCORE", "CONFIDENCE"})

	for _, a := range ranking.Answers {
		table.Append([]string{
			strconv.Itoa(a.Position),
			a.AnswerID,
			strconv.FormatFloat(a.Score, 'g', 6, 64),
			strconv.FormatFloat(a.Confidence, 'f', 4, 64),
		})
	}

	table.Render()
	return buf.String()
}

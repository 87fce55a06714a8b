package nn

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// SummaryRow describes one leaf layer of a model.
type SummaryRow struct {
	Name      string
	Kind      string
	OutWidth  int
	Params    int
	Trainable int
}

// Summarize walks s depth-first, feeding inWidth through every layer.
func Summarize(s *Sequential, prefix string, inWidth int) ([]SummaryRow, int) {
	var rows []SummaryRow
	width := inWidth
	for i := 0; i < s.Len(); i++ {
		path := joinPath(prefix, s.Name(i))
		l := s.Layer(i)
		if nested, ok := l.(*Sequential); ok {
			var sub []SummaryRow
			sub, width = Summarize(nested, path, width)
			rows = append(rows, sub...)
			continue
		}
		width = l.OutWidth(width)
		params := l.Parameters()
		rows = append(rows, SummaryRow{
			Name:      path,
			Kind:      l.Kind(),
			OutWidth:  width,
			Params:    CountParams(params),
			Trainable: CountParams(Trainable(params)),
		})
	}
	return rows, width
}

// FormatSummary renders rows as an aligned table with totals.
func FormatSummary(rows []SummaryRow) string {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Layer\tType\tOutput\tParams\tTrainable")
	total, trainable := 0, 0
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t[-1, %d]\t%d\t%d\n", r.Name, r.Kind, r.OutWidth, r.Params, r.Trainable)
		total += r.Params
		trainable += r.Trainable
	}
	tw.Flush()
	fmt.Fprintf(&sb, "Total params: %d\nTrainable params: %d\nNon-trainable params: %d\n",
		total, trainable, total-trainable)
	return sb.String()
}

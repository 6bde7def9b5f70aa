package ddos

import (
	"fmt"
	"strings"
	"time"

	"NetflowAnalyzer/internal/model"
)

func subject(r *model.Report) string {
	return fmt.Sprintf("NetflowAnalyzer DDoS Report: %d target(s) detected by %s", len(r.Targets), r.Module)
}

// body renders the report as the HTML mail body.
func body(r *model.Report) string {
	var b strings.Builder
	b.WriteString("<h1>NetflowAnalyzer DDoS Report</h1>")
	fmt.Fprintf(&b, "<p>Report <code>%s</code> from module <b>%s</b></p>", r.ID, r.Module)
	fmt.Fprintf(&b, "<p>Window: %s to %s</p><hr>",
		r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339))

	if len(r.Targets) == 0 {
		b.WriteString("<p>No targets detected in this window.</p>")
		return b.String()
	}

	b.WriteString("<table><tr><th>Target</th><th>Sources</th><th>Packets</th></tr>")
	for _, t := range r.Targets {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%d</td><td>%d</td></tr>", t.Addr, t.Sources, t.Packets)
	}
	b.WriteString("</table>")
	return b.String()
}

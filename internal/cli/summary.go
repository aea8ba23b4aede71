package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/playlake/internal/pipeline"
)

func printSummary(w io.Writer, res *pipeline.Result) {
	status := "published"
	if !res.Published {
		status = "dry run, not published"
	}
	fmt.Fprintf(w, "Run: %s (%s)\n", res.RunID, status)
	fmt.Fprintf(w, "Duration: %s\n", res.Duration.Round(time.Millisecond))

	inputs := tablewriter.NewWriter(w)
	inputs.SetAutoWrapText(false)
	inputs.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	inputs.SetAutoFormatHeaders(false)
	inputs.SetBorder(true)
	inputs.SetHeader([]string{"Dataset", "Files", "Records", "Skipped"})
	for _, d := range res.Datasets {
		inputs.Append([]string{
			d.Name,
			strconv.Itoa(d.Files),
			strconv.Itoa(d.Records),
			strconv.Itoa(d.Skipped),
		})
	}
	inputs.Render()

	tables := tablewriter.NewWriter(w)
	tables.SetAutoWrapText(false)
	tables.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	tables.SetAutoFormatHeaders(false)
	tables.SetBorder(true)
	tables.SetHeader([]string{"Table", "Rows"})
	for _, t := range res.Tables {
		tables.Append([]string{t.Name, strconv.Itoa(t.Rows)})
	}
	tables.Render()
}

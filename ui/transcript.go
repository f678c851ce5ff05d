package ui

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"node.town/voxroom/history"
)

// WriteTranscript renders entries as a table.
func WriteTranscript(w io.Writer, entries []history.Entry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Time", "Sender", "Modality", "Content"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, e := range entries {
		table.Append([]string{
			strconv.FormatUint(e.ID, 10),
			e.CreatedAt.Format("15:04:05"),
			string(e.Sender),
			string(e.Modality),
			e.Content,
		})
	}
	table.Render()
}

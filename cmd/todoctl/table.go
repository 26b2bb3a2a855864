package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type itemRow struct {
	id        string
	title     string
	completed bool
}

func renderItems(rows []itemRow) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Title", "Done"})
	for _, r := range rows {
		done := ""
		if r.completed {
			done = "yes"
		}
		tw.AppendRow(table.Row{r.id, r.title, done})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignCenter, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func renderJob(id, status string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Job", "Status"})
	tw.AppendRow(table.Row{id, status})
	return tw.Render()
}

package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/julienbonastre/ebay-listing-publisher/internal/auth"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the seller account connection status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.orchestrator.Status(cmd.Context())
		if err != nil {
			return err
		}
		renderStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func renderStatus(w io.Writer, st auth.Status) {
	expires := "-"
	if st.ExpiresAt != nil {
		expires = st.ExpiresAt.Local().Format(time.RFC1123)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Connected", st.Connected},
		{"State", string(st.State)},
		{"Access token expires", expires},
		{"Needs refresh", st.NeedsRefresh},
		{"Refresh token", st.HasRefreshToken},
	})
	t.Render()
}

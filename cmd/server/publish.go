package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/julienbonastre/ebay-listing-publisher/internal/publisher"
	"github.com/spf13/cobra"
)

var publishFile string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish listing drafts from a JSON file",
	Long: `Publish listing drafts with the stored seller token.

The file holds either a JSON array of drafts or an object {"drafts": [...]}.
Each draft is published on its own; a failed draft does not stop the batch.
The command exits non-zero when any draft failed.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVarP(&publishFile, "file", "f", "", "drafts file (- for stdin)")
	_ = publishCmd.MarkFlagRequired("file")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	drafts, err := readDrafts(cmd.InOrStdin(), publishFile)
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		return fmt.Errorf("no drafts in %s", publishFile)
	}

	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.orchestrator.GetValidAccessToken(ctx); err != nil {
		return fmt.Errorf("seller account not connected: %w", err)
	}

	result := a.publisher.PublishBatch(ctx, drafts)
	renderOutcomes(cmd.OutOrStdout(), result)

	if result.Failed > 0 {
		return fmt.Errorf("%d of %d drafts failed", result.Failed, len(drafts))
	}
	return nil
}

func readDrafts(stdin io.Reader, path string) ([]publisher.ListingDraft, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}

	var drafts []publisher.ListingDraft
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &drafts)
	} else {
		var wrapped struct {
			Drafts []publisher.ListingDraft `json:"drafts"`
		}
		err = json.Unmarshal(data, &wrapped)
		drafts = wrapped.Drafts
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse drafts: %w", err)
	}
	return drafts, nil
}

func renderOutcomes(w io.Writer, result publisher.BatchResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Batch " + result.BatchID)
	t.AppendHeader(table.Row{"SKU", "Result", "Step", "Offer", "Listing", "Error"})

	for _, o := range result.Outcomes {
		status := "published"
		errText := ""
		if !o.Success {
			status = "failed"
			errText = o.ErrorMessage
			if o.MarketplaceErrorID != 0 {
				errText = fmt.Sprintf("[%d] %s", o.MarketplaceErrorID, errText)
			}
		}
		t.AppendRow(table.Row{o.SKU, status, string(o.Step), o.OfferID, o.ListingID, errText})
	}

	t.AppendFooter(table.Row{"", fmt.Sprintf("%d ok / %d failed", result.Succeeded, result.Failed)})
	t.Render()
}

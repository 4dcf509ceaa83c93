package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/dhara/internal/metadata"
)

const digestWidth = 12

func runHistory(c *cli.Context, out io.Writer) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.HistoryPath == "" {
		return cli.Exit("transfer history is disabled (history_path is empty)", 1)
	}

	store, err := metadata.OpenHistoryStore(cfg.HistoryPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer store.Close()

	records, err := store.ListRecords(c.Int("limit"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No transfers recorded yet.")
		return nil
	}
	return printRecords(out, records)
}

func printRecords(out io.Writer, records []metadata.TransferRecord) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tSTATUS\tSIZE\tFILE\tDIGEST")
	for _, r := range records {
		digest := r.Digest
		if len(digest) > digestWidth {
			digest = digest[:digestWidth]
		}
		if digest == "" {
			digest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(r.Time()), r.Kind, r.Status,
			humanize.IBytes(uint64(r.Size)), r.FileName, digest)
	}
	return tw.Flush()
}

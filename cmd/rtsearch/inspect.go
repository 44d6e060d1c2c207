package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/segment"
)

func newInspectCommand() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "inspect <segment.spdx>",
		Short: "Print the header, deletes and densest terms of a segment file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := segment.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			var size uint64
			if fi, err := os.Stat(args[0]); err == nil {
				size = uint64(fi.Size())
			}
			h := r.Header()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "segment      %s\n", r.Name())
			fmt.Fprintf(out, "size         %s\n", humanize.IBytes(size))
			fmt.Fprintf(out, "version      %d\n", h.Version)
			fmt.Fprintf(out, "compression  %s\n", h.Compression)
			fmt.Fprintf(out, "docs         %s (%s deleted, %s live)\n",
				humanize.Comma(int64(r.DocCount())),
				humanize.Comma(int64(r.Deleted())),
				humanize.Comma(int64(r.LiveDocs())))
			fmt.Fprintf(out, "terms        %s\n", humanize.Comma(int64(r.Terms())))
			fmt.Fprintf(out, "dictionary   %s\n", humanize.IBytes(uint64(h.DictSize)))
			fmt.Fprintf(out, "postings     %s\n", humanize.IBytes(uint64(h.PostSize)))
			fmt.Fprintf(out, "doc table    %s\n", humanize.IBytes(uint64(h.DocsSize)))

			if top <= 0 {
				return nil
			}
			dict := append([]segment.DictEntry(nil), r.Dict()...)
			sort.SliceStable(dict, func(i, j int) bool { return dict[i].DocFreq > dict[j].DocFreq })
			if len(dict) > top {
				dict = dict[:top]
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tTERM\tDOCS\tPOSTINGS")
			for _, e := range dict {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Field, e.Term,
					humanize.Comma(int64(e.DocFreq)), humanize.IBytes(uint64(e.PostLen)))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "number of terms to list by document frequency")
	return cmd
}

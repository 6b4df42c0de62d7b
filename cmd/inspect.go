package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/quizpack/pkg/packager"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive.zip>",
		Short: "List the pages inside a generated archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	entries, err := packager.Extract(data)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-32s  %8s  %5s  %s\n", "Page", "Bytes", "Items", "Title")
	fmt.Fprintln(out, strings.Repeat("─", 70))

	for _, name := range names {
		body := entries[name]
		title, items := "", 0
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			title = strings.TrimSpace(doc.Find("title").First().Text())
			items = doc.Find("body li").Length()
		}
		fmt.Fprintf(out, "%-32s  %8d  %5d  %s\n", name, len(body), items, title)
	}

	color.New(color.FgGreen).Fprintf(out, "%d pages\n", len(names))
	return nil
}

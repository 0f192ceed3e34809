package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/sms-bridge/filter"
	"github.com/dhcgn/sms-bridge/mbox"
	"github.com/dhcgn/sms-bridge/stats"
)

var headersToTrack = []string{"From", "To", "Subject"}

type outboxStatsOptions struct {
	reportDir        string
	topN             int
	includeRecipient []string
	includeBody      []string
	excludeRecipient []string
	excludeBody      []string
}

// NewOutboxStatsCommand reports the most frequent senders, recipients and
// subjects of the outbox archive.
func NewOutboxStatsCommand() *cobra.Command {
	var opts outboxStatsOptions

	statsCmd := &cobra.Command{
		Use:   "outbox-stats [mbox file]",
		Short: "Analyse the outbox archive and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutboxStats(cmd.OutOrStdout(), args[0], opts)
		},
	}

	flags := statsCmd.Flags()
	flags.StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.StringArrayVar(&opts.includeRecipient, "include-recipient", nil, "Regex allow-list applied to recipient addresses (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.includeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.excludeRecipient, "exclude-recipient", nil, "Regex block-list applied to recipient addresses (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.excludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return statsCmd
}

func runOutboxStats(out io.Writer, mboxPath string, opts outboxStatsOptions) error {
	fmt.Fprintln(out, "Analyzing outbox archive:", mboxPath)

	f, err := filter.New(filter.Options{
		IncludeRecipient: opts.includeRecipient,
		IncludeBody:      opts.includeBody,
		ExcludeRecipient: opts.excludeRecipient,
		ExcludeBody:      opts.excludeBody,
	})
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	counter := make(map[string]map[string]int)
	for _, h := range headersToTrack {
		counter[h] = make(map[string]int)
	}

	messageCount := 0
	skippedCount := 0

	err = mbox.Read(mboxPath, func(m *mbox.MboxMessage) error {
		if !f.Allows(recipientsOf(m.Headers), string(m.Body)) {
			skippedCount++
			return nil
		}

		messageCount++
		for _, headerName := range headersToTrack {
			if headerName == "To" {
				for _, addr := range addressesOf(m.Headers, "To") {
					counter[headerName][addr]++
				}
				continue
			}
			if value := m.Headers.Get(headerName); value != "" {
				counter[headerName][value]++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error reading mbox file: %w", err)
	}

	total := messageCount + skippedCount
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(skippedCount) / float64(total) * 100
	}
	fmt.Fprintf(out, "Processed %d messages (skipped %d by filters, %.2f%%)\n\n", messageCount, skippedCount, filterPercent)

	printFilterStats(out, f.GetStats())

	for _, header := range headersToTrack {
		fmt.Fprintf(out, "Top %d %s:\n", opts.topN, header)
		stats.PrettyPrintTop(out, counter[header], opts.topN)
		fmt.Fprintln(out)
	}

	if err := saveCSVReports(counter, headersToTrack, opts.reportDir, 1000); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}

	fmt.Fprintf(out, "Reports saved to directory: %s\n", opts.reportDir)
	return nil
}

func recipientsOf(h mail.Header) []string {
	var out []string
	for _, key := range []string{"To", "Cc", "Bcc"} {
		out = append(out, addressesOf(h, key)...)
	}
	return out
}

func addressesOf(h mail.Header, key string) []string {
	if h.Get(key) == "" {
		return nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		return []string{strings.TrimSpace(h.Get(key))}
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, addr.Address)
	}
	return out
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(header)))
		if err := writeCSVReport(filePath, stats.Top(counter[header], limit)); err != nil {
			return err
		}
	}

	return nil
}

func writeCSVReport(path string, rows []stats.Count) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.Key, strconv.Itoa(row.Count)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterStats(out io.Writer, s filter.Stats) {
	sections := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Recipient Filters", s.IncludeRecipientPatterns, s.IncludeRecipientHits},
		{"Include Body Filters", s.IncludeBodyPatterns, s.IncludeBodyHits},
		{"Exclude Recipient Filters", s.ExcludeRecipientPatterns, s.ExcludeRecipientHits},
		{"Exclude Body Filters", s.ExcludeBodyPatterns, s.ExcludeBodyHits},
	}

	printed := false
	for _, section := range sections {
		if len(section.patterns) == 0 {
			continue
		}
		printed = true
		fmt.Fprintf(out, "%s:\n", section.title)
		printFilterHits(out, section.patterns, section.hits)
		fmt.Fprintln(out)
	}
	if printed {
		fmt.Fprintln(out, "---")
		fmt.Fprintln(out)
	}
}

func printFilterHits(out io.Writer, patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Fprintf(out, "  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Fprintf(out, "  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}

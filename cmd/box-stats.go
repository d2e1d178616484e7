package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mailkit/mdedup/hash"
	"github.com/mailkit/mdedup/model"
	"github.com/mailkit/mdedup/source"
	"github.com/mailkit/mdedup/stats"
)

var (
	topN        int
	inputFormat string
	hashHeaders []string
)

// BoxStatsCmd analyses mail sources without deduplicating: message counts,
// the most frequent fingerprints and the most frequent header values. Handy
// for sizing thresholds before a real run.
var BoxStatsCmd = &cobra.Command{
	Use:   "box-stats MAIL_SOURCE...",
	Short: "Analyse mail sources and show duplicate statistics",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		headersToTrack := []string{"From", "To", "Subject", "Delivered-To"}
		headerCounter := make(map[string]map[string]int)
		for _, h := range headersToTrack {
			headerCounter[h] = make(map[string]int)
		}
		hashCounter := make(map[string]int)

		headers := make([]string, 0, len(hashHeaders))
		for _, h := range hashHeaders {
			headers = append(headers, strings.ToLower(strings.TrimSpace(h)))
		}
		opts := hash.Options{
			Headers:    headers,
			MinHeaders: 1,
		}

		messageCount := 0
		sparseCount := 0
		errorCount := 0

		for _, path := range args {
			src, err := source.Open(path, source.Options{Format: inputFormat}, slog.Default())
			if err != nil {
				return err
			}

			envelopes := make(chan model.Envelope, 32)
			var wg sync.WaitGroup
			var streamErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer close(envelopes)
				streamErr = src.Stream(context.Background(), envelopes)
			}()

			for env := range envelopes {
				if env.Err != nil {
					errorCount++
					continue
				}
				messageCount++

				msg := env.Message
				for _, h := range headersToTrack {
					if v := msg.Header(h); v != "" {
						headerCounter[h][v]++
					}
				}

				fp, err := hash.Compute(msg, opts)
				if err != nil {
					sparseCount++
					continue
				}
				hashCounter[fp.String()]++
			}

			wg.Wait()
			if streamErr != nil {
				return streamErr
			}
		}

		fmt.Printf("Messages: %d (read errors %d, unhashable %d)\n\n", messageCount, errorCount, sparseCount)

		duplicated := make(map[string]int)
		for h, n := range hashCounter {
			if n > 1 {
				duplicated[h] = n
			}
		}
		fmt.Printf("Duplicate fingerprints: %d\n", len(duplicated))
		stats.PrettyPrintTop(duplicated, topN)
		fmt.Println()

		for _, header := range headersToTrack {
			fmt.Printf("Top %d %s:\n", topN, header)
			stats.PrettyPrintTop(headerCounter[header], topN)
			fmt.Println()
		}

		return nil
	},
}

func init() {
	flags := BoxStatsCmd.Flags()
	flags.IntVar(&topN, "top", 10, "Number of top entries to display per category")
	flags.StringVar(&inputFormat, "input-format", "", "Force mbox or maildir instead of auto-detecting")
	flags.StringArrayVar(&hashHeaders, "hash-header", hash.DefaultHeaders, "Headers used to fingerprint each mail")
}

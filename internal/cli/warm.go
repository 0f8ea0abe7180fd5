package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/apicache/internal/config"
	"github.com/rshade/apicache/internal/engine/cache"
	"github.com/rshade/apicache/internal/logging"
	"github.com/rshade/apicache/internal/upstream"
	"github.com/rshade/apicache/internal/warm"
)

func newWarmCmd() *cobra.Command {
	var (
		ttlArg      string
		fromFile    string
		batchSize   int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "warm [url...]",
		Short: "Prefetch URLs into the cache",
		Long: `Fetches each URL through the cache so later reads are hits. URLs that
already have a live entry are skipped. URLs can be given as arguments or
read one per line from --file ("-" reads stdin). Blank lines and lines
starting with # are ignored.`,
		Example: `  apicache warm https://api.example.com/v1/signals https://api.example.com/v1/overview
  apicache warm --file urls.txt --concurrency 8 --ttl 30m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if fromFile != "" {
				listed, err := readTargets(cmd.InOrStdin(), fromFile)
				if err != nil {
					return err
				}
				targets = append(targets, listed...)
			}
			if len(targets) == 0 {
				return errors.New("no URLs to warm")
			}

			var opts cache.SetOptions
			if ttlArg != "" {
				ttl, err := cache.ParseTTL(ttlArg)
				if err != nil {
					return err
				}
				opts = opts.WithTTL(ttl)
			}

			cfg := config.GetGlobalConfig()
			client, err := upstream.New("",
				upstream.WithTimeout(cfg.Server.Timeout),
				upstream.WithLogger(logging.ComponentLogger(logger, "upstream")))
			if err != nil {
				return err
			}

			session := sessionFor()
			defer session.Close()
			if !session.cache.Available() {
				return errors.New("no cache store available")
			}

			warmer, err := warm.New(session.cache,
				func(ctx context.Context, target string) (json.RawMessage, error) {
					return client.Get(ctx, target)
				},
				warm.WithBatchSize(batchSize),
				warm.WithConcurrency(concurrency),
				warm.WithSetOptions(opts),
				warm.WithLogger(logging.ComponentLogger(logger, "warm")),
			)
			if err != nil {
				return err
			}

			report, err := warmer.Warm(cmd.Context(), targets)
			if err != nil {
				return err
			}
			cmd.Printf("Warmed %d of %d %s in %s\n",
				report.Done-report.Failed, report.Total, plural(report.Total, "URL", "URLs"),
				report.Elapsed().Round(time.Millisecond))
			return report.Err()
		},
	}
	cmd.Flags().StringVar(&ttlArg, "ttl", "", "lifetime as seconds or a duration (default: endpoint policy)")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read URLs one per line from a file, - for stdin")
	cmd.Flags().IntVar(&batchSize, "batch-size", warm.DefaultBatchSize, "URLs fetched sequentially per worker batch")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", warm.DefaultConcurrency, "batches fetched in parallel")
	return cmd
}

func readTargets(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening URL list: %w", err)
		}
		defer f.Close()
		r = f
	}

	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading URL list: %w", err)
	}
	return targets, nil
}

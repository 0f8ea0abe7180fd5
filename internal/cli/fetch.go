package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/rshade/apicache/internal/config"
	"github.com/rshade/apicache/internal/engine/cache"
	"github.com/rshade/apicache/internal/logging"
	"github.com/rshade/apicache/internal/upstream"
)

func newFetchCmd() *cobra.Command {
	var (
		ttlArg  string
		noCache bool
		query   string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "GET a JSON URL through the cache",
		Long: `Returns the cached response for the URL when one is live; otherwise
fetches it, caches it and prints it. Upstream errors are never cached.`,
		Example: `  apicache fetch https://api.example.com/v1/signals?symbol=AAPL
  apicache fetch https://api.example.com/v1/overview --query data.items.#.name
  apicache fetch https://api.example.com/v1/quotes --no-cache -H "Authorization: Bearer $TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.GetGlobalConfig()
			target := args[0]

			opts := cache.SetOptions{NoCache: noCache}
			if ttlArg != "" {
				ttl, err := cache.ParseTTL(ttlArg)
				if err != nil {
					return err
				}
				opts = opts.WithTTL(ttl)
			}

			clientOpts := []upstream.Option{
				upstream.WithTimeout(cfg.Server.Timeout),
				upstream.WithLogger(logging.ComponentLogger(logger, "upstream")),
			}
			for _, h := range headers {
				key, value, ok := splitHeader(h)
				if !ok {
					return fmt.Errorf("invalid header %q, want \"Name: value\"", h)
				}
				clientOpts = append(clientOpts, upstream.WithHeader(key, value))
			}
			client, err := upstream.New("", clientOpts...)
			if err != nil {
				return err
			}

			session := sessionFor()
			defer session.Close()

			body, err := cache.WithCache(ctx, session.cache, target,
				func(ctx context.Context) (json.RawMessage, error) {
					return client.Get(ctx, target)
				}, opts)
			if err != nil {
				return err
			}

			if query == "" {
				return writeJSON(cmd, body)
			}
			result := gjson.GetBytes(body, query)
			if !result.Exists() {
				return fmt.Errorf("query %q matched nothing", query)
			}
			return writeJSON(cmd, []byte(result.Raw))
		},
	}
	cmd.Flags().StringVar(&ttlArg, "ttl", "", "lifetime as seconds or a duration (default: endpoint policy)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the cache for this request")
	cmd.Flags().StringVarP(&query, "query", "q", "", "gjson path selecting part of the response")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as \"Name: value\" (repeatable)")
	return cmd
}

func splitHeader(h string) (string, string, bool) {
	key, value, ok := strings.Cut(h, ":")
	key = strings.TrimSpace(key)
	return key, strings.TrimSpace(value), ok && key != ""
}

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rshade/apicache/internal/config"
	"github.com/rshade/apicache/internal/engine/cache"
)

// ErrCacheMiss is returned by the get command when nothing live is cached.
var ErrCacheMiss = errors.New("cache miss")

// paramsArg converts --param flags into the params value used for key
// derivation. No flags means no params.
func paramsArg(params map[string]string) any {
	if len(params) == 0 {
		return nil
	}
	return params
}

// sessionFor opens the cache for the running command.
func sessionFor() *cacheSession {
	return openCache(config.GetGlobalConfig(), logger, nil)
}

func newGetCmd() *cobra.Command {
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "get <identity>",
		Short: "Print the cached response for an identity",
		Example: `  apicache get /api/quotes/AAPL
  apicache get /api/signals --param symbol=AAPL`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := sessionFor()
			defer session.Close()

			data, ok := session.cache.Get(args[0], paramsArg(params))
			if !ok {
				return fmt.Errorf("%w: %s", ErrCacheMiss, args[0])
			}
			return writeJSON(cmd, data)
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "request parameter as key=value (repeatable)")
	return cmd
}

func newSetCmd() *cobra.Command {
	var (
		params map[string]string
		ttlArg string
	)

	cmd := &cobra.Command{
		Use:   "set <identity> <json>",
		Short: "Cache a JSON response for an identity",
		Example: `  apicache set /api/quotes/AAPL '{"price":189.25}'
  apicache set /api/x/overview '[1,2,3]' --ttl 1h`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, value := args[0], []byte(args[1])
			if !json.Valid(value) {
				return fmt.Errorf("value for %s is not valid JSON", identity)
			}

			opts := cache.SetOptions{Params: paramsArg(params)}
			if ttlArg != "" {
				ttl, err := cache.ParseTTL(ttlArg)
				if err != nil {
					return err
				}
				opts = opts.WithTTL(ttl)
			}

			session := sessionFor()
			defer session.Close()
			if !session.cache.Available() {
				return errors.New("no cache store available")
			}

			session.cache.Set(identity, json.RawMessage(value), opts)
			ttl := opts.TTL
			if ttl == 0 {
				ttl = session.cache.ResolveTTL(identity)
			}
			cmd.Printf("Cached %s for %s\n", identity, cache.FormatDuration(ttl))
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "request parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&ttlArg, "ttl", "", "lifetime as seconds or a duration such as 90s or 5m (default: endpoint policy)")
	return cmd
}

func newInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove cached entries whose key contains pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := sessionFor()
			defer session.Close()

			removed := session.cache.Invalidate(args[0])
			cmd.Printf("Removed %d %s\n", removed, plural(removed, "entry", "entries"))
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry in the namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session := sessionFor()
			defer session.Close()

			if !yes {
				if !isTerminal(os.Stdin) {
					return errors.New("refusing to clear without --yes in a non-interactive session")
				}
				prompt := fmt.Sprintf("Remove all entries under prefix %q?", session.cache.Prefix())
				if !Confirm(cmd.OutOrStdout(), cmd.InOrStdin(), prompt).Accepted {
					cmd.Println("Aborted")
					return nil
				}
			}

			removed := session.cache.Clear()
			cmd.Printf("Removed %d %s\n", removed, plural(removed, "entry", "entries"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session := sessionFor()
			defer session.Close()

			removed := session.cache.Cleanup()
			cmd.Printf("Removed %d expired %s\n", removed, plural(removed, "entry", "entries"))
			return nil
		},
	}
}

func newTTLCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ttl <identity>...",
		Short:   "Show the cache lifetime applied to identities",
		Example: `  apicache ttl /api/x/signals /api/x/sentiment /api/x/overview`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := config.GetGlobalConfig().TTLPolicy()
			for _, identity := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", identity, cache.FormatDuration(policy.Resolve(identity)))
			}
			return nil
		},
	}
}

// writeJSON prints data indented, followed by a newline.
func writeJSON(cmd *cobra.Command, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		buf.Reset()
		buf.Write(data)
	}
	buf.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

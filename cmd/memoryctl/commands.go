package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-cherry/memory-mediator/client"
)

// memoryAPI is the subset of *client.Client the commands use.
type memoryAPI interface {
	Store(ctx context.Context, req client.StoreRequest) (*client.StoreResponse, error)
	Retrieve(ctx context.Context, id string) (*client.Lookup, error)
	Update(ctx context.Context, id string, patch client.Patch) (*client.Record, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, req client.SearchRequest) (*client.SearchResponse, error)
	Stats(ctx context.Context) (*client.Stats, error)
}

// withClient runs fn with a client built from the persistent flags.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c memoryAPI) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(cmd.Context(), c)
}

func newStoreCmd() *cobra.Command {
	var typ, text, contentJSON, metadataJSON, target string
	var ttl int
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store a new memory record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c memoryAPI) error {
				return runStore(ctx, c, typ, target, text, contentJSON, metadataJSON, ttl, os.Stdout)
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Record type (Event, Insight, Decision, Context, ConversationTurn)")
	cmd.Flags().StringVar(&text, "text", "", "Shorthand for content {\"text\": ...}")
	cmd.Flags().StringVar(&contentJSON, "content", "", "Content as a JSON object")
	cmd.Flags().StringVar(&metadataJSON, "metadata", "", "Metadata as a JSON object")
	cmd.Flags().StringVar(&target, "into", "", "Target namespace (default: the principal's)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "TTL in seconds (0 keeps the type default)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c memoryAPI) error {
				return runGet(ctx, c, args[0], os.Stdout)
			})
		},
	}
}

func newUpdateCmd() *cobra.Command {
	var text, contentJSON, metadataJSON string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Merge changes into a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c memoryAPI) error {
				return runUpdate(ctx, c, args[0], text, contentJSON, metadataJSON, os.Stdout)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Replace content.text")
	cmd.Flags().StringVar(&contentJSON, "content", "", "Content keys to merge, as a JSON object (null deletes)")
	cmd.Flags().StringVar(&metadataJSON, "metadata", "", "Metadata keys to merge, as a JSON object (null deletes)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a memory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c memoryAPI) error {
				return runDelete(ctx, c, args[0], os.Stdout)
			})
		},
	}
}

func newSearchCmd() *cobra.Command {
	var query, types, owner, searchNS, since string
	var limit int
	var threshold float32
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search memory records by similarity or filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.SearchRequest{
				QueryText: query,
				Filters:   client.SearchFilters{Namespace: searchNS, OwnerID: owner},
				Limit:     limit,
				Threshold: threshold,
			}
			for _, t := range splitList(types) {
				req.Filters.Types = append(req.Filters.Types, client.MemoryType(t))
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				req.Filters.TimeRange.From = time.Now().Add(-d)
			}
			return withClient(cmd, func(ctx context.Context, c memoryAPI) error {
				return runSearch(ctx, c, req, os.Stdout)
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Query text; omit for a structural search")
	cmd.Flags().StringVar(&types, "types", "", "Comma-separated record types")
	cmd.Flags().StringVar(&owner, "owner", "", "Only records owned by this principal")
	cmd.Flags().StringVar(&searchNS, "in", "", "Namespace to search (default: the principal's)")
	cmd.Flags().StringVar(&since, "since", "", "Only records created within this duration, e.g. 24h")
	cmd.Flags().IntVarP(&limit, "limit", "k", 10, "Maximum number of results")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "Minimum similarity (default: server setting)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache and propagation statistics (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c memoryAPI) error {
				return runStats(ctx, c, os.Stdout)
			})
		},
	}
}

func runStore(ctx context.Context, c memoryAPI, typ, target, text, contentJSON, metadataJSON string, ttl int, out io.Writer) error {
	content, err := parseObject("content", contentJSON)
	if err != nil {
		return err
	}
	if text != "" {
		if content == nil {
			content = map[string]interface{}{}
		}
		content["text"] = text
	}
	metadata, err := parseObject("metadata", metadataJSON)
	if err != nil {
		return err
	}
	req := client.StoreRequest{Type: client.MemoryType(typ), Namespace: target, Content: content, Metadata: metadata}
	if ttl > 0 {
		req.TTLSeconds = &ttl
	}
	res, err := c.Store(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runGet(ctx context.Context, c memoryAPI, id string, out io.Writer) error {
	lk, err := c.Retrieve(ctx, id)
	if err != nil {
		return err
	}
	if !lk.Found {
		return fmt.Errorf("record %s not found", id)
	}
	return printJSON(out, lk.Record)
}

func runUpdate(ctx context.Context, c memoryAPI, id, text, contentJSON, metadataJSON string, out io.Writer) error {
	content, err := parseObject("content", contentJSON)
	if err != nil {
		return err
	}
	if text != "" {
		if content == nil {
			content = map[string]interface{}{}
		}
		content["text"] = text
	}
	metadata, err := parseObject("metadata", metadataJSON)
	if err != nil {
		return err
	}
	if content == nil && metadata == nil {
		return fmt.Errorf("nothing to update: set --text, --content or --metadata")
	}
	rec, err := c.Update(ctx, id, client.Patch{Content: content, Metadata: metadata})
	if err != nil {
		return err
	}
	return printJSON(out, rec)
}

func runDelete(ctx context.Context, c memoryAPI, id string, out io.Writer) error {
	if err := c.Delete(ctx, id); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "deleted %s\n", id)
	return err
}

func runSearch(ctx context.Context, c memoryAPI, req client.SearchRequest, out io.Writer) error {
	res, err := c.Search(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runStats(ctx context.Context, c memoryAPI, out io.Writer) error {
	st, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func parseObject(name, raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object: %w", name, err)
	}
	return m, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/drf-client/pkg/api"
	"github.com/Sternrassler/drf-client/pkg/pagination"
)

// listConcurrency bounds how many endpoints are walked at once. Pages of a
// single endpoint are always fetched sequentially.
const listConcurrency = 4

func newListCmd(a *app) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "list <endpoint>...",
		Short: "Aggregate every page of one or more list endpoints",
		Long: `Follow the next links of each paginated endpoint and print the aggregated
results. Several endpoints are walked concurrently; any failure fails the
command without partial output.`,
		Example: `  drfetch list blog/posts/
  drfetch list blog/posts/ blog/tags/ --param lang=de -o yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseKeyValues(params)
			if err != nil {
				return err
			}

			results := make([]*pagination.Aggregated[json.RawMessage], len(args))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(listConcurrency)
			for i, endpoint := range args {
				i, endpoint := i, endpoint
				g.Go(func() error {
					res := api.FetchAllPages[json.RawMessage](ctx, a.client, "", endpoint, p)
					agg, err := res.Wait(ctx)
					if err != nil {
						return fmt.Errorf("list %s: %w", endpoint, err)
					}
					results[i] = agg

					a.logger.Debug().
						Str("endpoint", endpoint).
						Int("items", agg.Len()).
						Msg("Endpoint aggregated")
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if len(args) == 1 {
				return writeOutput(cmd.OutOrStdout(), a.output, results[0])
			}

			byEndpoint := make(map[string]*pagination.Aggregated[json.RawMessage], len(args))
			for i, endpoint := range args {
				byEndpoint[endpoint] = results[i]
			}
			return writeOutput(cmd.OutOrStdout(), a.output, byEndpoint)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter key=value applied to every endpoint (repeatable)")

	return cmd
}

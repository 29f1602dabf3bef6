package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/drf-client/pkg/api"
	"github.com/Sternrassler/drf-client/pkg/request"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		params  []string
		headers []string
		method  string
		data    string
		first   bool
	)

	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Fetch a single resource or page",
		Long: `Fetch a single endpoint and print the JSON response. The endpoint is resolved
against the configured base URL unless it is an absolute URL.`,
		Example: `  drfetch get blog/posts/ --param category=news
  drfetch get blog/posts/ --param slug=hello-world --first
  drfetch get contact/ --method POST --data '{"email": "a@example.com"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := args[0]

			p, err := parseKeyValues(params)
			if err != nil {
				return err
			}
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			if first {
				item, ok, err := api.FetchFirst[json.RawMessage](cmd.Context(), a.client, endpoint, p)
				if err != nil {
					return fmt.Errorf("get %s: %w", endpoint, err)
				}
				if !ok {
					return fmt.Errorf("get %s: no results", endpoint)
				}
				return writeOutput(cmd.OutOrStdout(), a.output, item)
			}

			opts := request.Options{Params: p, Headers: h, Method: method}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				opts.Body = json.RawMessage(data)
			}

			body, err := api.FetchOne[json.RawMessage](cmd.Context(), a.client, endpoint, opts)
			if err != nil {
				return fmt.Errorf("get %s: %w", endpoint, err)
			}
			if len(body) == 0 {
				return nil
			}
			return writeOutput(cmd.OutOrStdout(), a.output, body)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header Name=value (repeatable)")
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().BoolVar(&first, "first", false, "print only the first result of a list page")

	return cmd
}

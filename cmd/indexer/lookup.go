package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/searcher/handler"
)

var (
	serverAddr    string
	lookupTimeout time.Duration
	lookupJSON    bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <word>...",
	Short: "Query a running indexer",
	Long: `Look words up in a running indexer and print one path per line.

A file containing several of the words is printed once per word.

Examples:
  indexer lookup config
  indexer lookup --addr http://localhost:9000 deadline budget`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), lookupTimeout)
		defer cancel()

		resp, raw, err := lookup(ctx, serverAddr, strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if lookupJSON {
			_, err := out.Write(raw)
			return err
		}
		for _, p := range resp.Paths {
			fmt.Fprintln(out, p)
		}
		return nil
	},
}

func init() {
	lookupCmd.Flags().StringVar(&serverAddr, "addr", "http://localhost:8080", "indexer base URL")
	lookupCmd.Flags().DurationVar(&lookupTimeout, "timeout", 10*time.Second, "request timeout")
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "print the raw JSON response")
	rootCmd.AddCommand(lookupCmd)
}

func lookup(ctx context.Context, addr, query string) (*handler.LookupResponse, []byte, error) {
	endpoint := strings.TrimRight(addr, "/") + "/api/v1/lookup?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("querying %s: %w", addr, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &body)
		return nil, nil, fmt.Errorf("lookup failed (%d): %s", res.StatusCode, body.Error)
	}
	var resp handler.LookupResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, raw, nil
}

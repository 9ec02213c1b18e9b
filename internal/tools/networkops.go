package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"zenus/internal/ledger"
	"zenus/internal/types"
)

// newNetworkOps builds the HTTP tool. Downloads to a fresh path are
// reversible by deleting the file; GET requests mutate nothing.
func newNetworkOps() *Tool {
	return &Tool{
		Name:  "NetworkOps",
		Class: ClassNetwork,
		Actions: map[string]*Action{
			"download": {
				Required: []string{"url", "dest"},
				Mutating: true,
				Handler:  networkDownload,
			},
			"http_get": {
				Required: []string{"url"},
				Handler:  networkGet,
			},
		},
	}
}

func networkDownload(ctx context.Context, args map[string]any) (*Result, error) {
	url := stringArg(args, "url")
	dest := stringArg(args, "dest")

	body, status, err := httpGet(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	n, err := io.Copy(out, body)
	if err != nil {
		return nil, types.WithKind(types.KindTransient,
			fmt.Errorf("download interrupted: %w", err))
	}
	return &Result{
		Stdout:     fmt.Sprintf("downloaded %d bytes to %s (%s)", n, dest, status),
		Reversible: true,
		Strategy:   ledger.Strategy{Kind: ledger.StrategyDelete, Path: dest},
	}, nil
}

func networkGet(ctx context.Context, args map[string]any) (*Result, error) {
	url := stringArg(args, "url")
	body, _, err := httpGet(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, types.WithKind(types.KindTransient,
			fmt.Errorf("failed to read response: %w", err))
	}
	return &Result{
		Stdout:   string(data),
		Stderr:   "",
		Strategy: ledger.None(),
	}, nil
}

func httpGet(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", types.WithKind(types.KindSchema,
			fmt.Errorf("invalid url %q: %w", url, err))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, "", types.WithKind(types.KindNotFound,
			fmt.Errorf("GET %s: %s", url, resp.Status))
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, "", types.WithKind(types.KindPermission,
			fmt.Errorf("GET %s: %s", url, resp.Status))
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, "", types.WithKind(types.KindTransient,
			fmt.Errorf("GET %s: %s", url, resp.Status))
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp.Body, resp.Status, nil
}

package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/planrunner/common/blockspec"
)

// httpGetBlock is a Processing Block that performs a bounded-timeout HTTP
// GET, grounded on the teacher's cmd/workflow-runner/worker/http_worker.go
// (same http.Client-with-timeout shape, collapsed from "read a task off a
// Redis stream" to "receive resolved inputs directly from the Runner").
type httpGetBlock struct {
	spec   *blockspec.Spec
	client *http.Client
}

func httpGetSpec() *blockspec.Spec {
	return &blockspec.Spec{
		ID:         "http_get",
		Version:    "1.0.0",
		Entrypoint: "builtin://http_get",
		Inputs: map[string]blockspec.Field{
			"url": {Type: blockspec.TypeString, Required: true},
		},
		Outputs: map[string]blockspec.Field{
			"status": {Type: blockspec.TypeInteger},
			"body":   {Type: blockspec.TypeString},
		},
		DryRun: &blockspec.DryRun{Samples: map[string]any{"status": 200, "body": ""}},
	}
}

func newHTTPGetBlock(spec *blockspec.Spec) *httpGetBlock {
	return &httpGetBlock{
		spec:   spec,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *httpGetBlock) Validate() error { return b.spec.SelfCheck() }

func (b *httpGetBlock) DryRun(inputs map[string]any) (map[string]any, error) {
	return map[string]any{"status": 200, "body": ""}, nil
}

func (b *httpGetBlock) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	url, _ := inputs["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_get: missing url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http_get: building request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_get: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("http_get: reading response: %w", err)
	}

	return map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}, nil
}

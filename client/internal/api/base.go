// Package api issues the mediator's REST calls. Writes that must stay ordered
// per record go through the executor; everything else is a plain request.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"

	clienterrors "github.com/ai-cherry/memory-mediator/client/internal/errors"
)

// maxErrorBody bounds how much of a failed response is kept for classification.
const maxErrorBody = 64 << 10

func memoryURL(baseURL, id string) string {
	return baseURL + "/memory/" + url.PathEscape(id)
}

// doJSON sends in (when non-nil) and decodes the response into out when its
// status is one of accept. Other statuses become classified errors.
func doJSON(ctx context.Context, hc *http.Client, method, target, op string, in, out interface{}, accept ...int) (int, error) {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, clienterrors.NewNetworkError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !slices.Contains(accept, resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, clienterrors.NewHTTPError(resp.StatusCode, body, op)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

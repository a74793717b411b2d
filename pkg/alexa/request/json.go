package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/asnowfix/myecho/pkg/alexa/types"
)

// StatusError is a non-success response the executor does not map to a
// domain error.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// JSON runs r and decodes a 2xx response body into out (when non-nil).
func (e *Executor) JSON(ctx context.Context, r *Request, out any) error {
	resp, err := e.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Method: r.Method, Path: resp.Request.URL.Path, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%s %s: %w: %v", r.Method, r.URL, types.ErrDecode, err)
	}
	return nil
}

func (e *Executor) GetJSON(ctx context.Context, path string, out any) error {
	return e.JSON(ctx, &Request{Method: http.MethodGet, URL: path}, out)
}

func (e *Executor) PostJSON(ctx context.Context, path string, body any, out any) error {
	return e.JSON(ctx, &Request{Method: http.MethodPost, URL: path, JSON: body}, out)
}

func (e *Executor) PutJSON(ctx context.Context, path string, body any, out any) error {
	return e.JSON(ctx, &Request{Method: http.MethodPut, URL: path, JSON: body}, out)
}

func (e *Executor) Delete(ctx context.Context, path string) error {
	return e.JSON(ctx, &Request{Method: http.MethodDelete, URL: path}, nil)
}

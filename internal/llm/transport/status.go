package transport

import (
	"io"
	"net/http"
)

const maxErrorBodyBytes = 64 * 1024

func newStatusError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &StatusError{StatusCode: resp.StatusCode, Body: body}
}

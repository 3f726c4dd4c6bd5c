package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedTransport struct {
	resp  Response
	err   error
	calls int
}

func (f *fixedTransport) Get(_ context.Context, url string) (Response, error) {
	f.calls++
	resp := f.resp
	resp.URL = url
	return resp, f.err
}

type promoteIf func(Response) bool

func (p promoteIf) ShouldPromote(resp Response) bool { return p(resp) }

func emptyBody(resp Response) bool { return len(resp.Body) == 0 }

func TestPromotingTransportKeepsRenderedPages(t *testing.T) {
	t.Parallel()

	probe := &fixedTransport{resp: Response{StatusCode: http.StatusOK, Body: []byte("<p>results</p>")}}
	render := &fixedTransport{}
	tr := NewPromotingTransport(probe, render, promoteIf(emptyBody), nil)

	resp, err := tr.Get(context.Background(), "https://example.test/a")
	require.NoError(t, err)
	require.Equal(t, "<p>results</p>", string(resp.Body))
	require.Zero(t, render.calls)
}

func TestPromotingTransportRendersShells(t *testing.T) {
	t.Parallel()

	probe := &fixedTransport{resp: Response{StatusCode: http.StatusOK}}
	render := &fixedTransport{resp: Response{StatusCode: http.StatusOK, Body: []byte("<p>rendered</p>")}}
	tr := NewPromotingTransport(probe, render, promoteIf(emptyBody), nil)

	resp, err := tr.Get(context.Background(), "https://example.test/a")
	require.NoError(t, err)
	require.Equal(t, "<p>rendered</p>", string(resp.Body))
	require.Equal(t, 1, render.calls)
}

func TestPromotingTransportFallsBackToProbe(t *testing.T) {
	t.Parallel()

	probe := &fixedTransport{resp: Response{StatusCode: http.StatusOK}}
	render := &fixedTransport{err: errors.New("chrome crashed")}
	tr := NewPromotingTransport(probe, render, promoteIf(emptyBody), nil)

	resp, err := tr.Get(context.Background(), "https://example.test/a")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Body)
}

func TestPromotingTransportReturnsProbeErrors(t *testing.T) {
	t.Parallel()

	probe := &fixedTransport{err: errors.New("dial failed")}
	render := &fixedTransport{}
	tr := NewPromotingTransport(probe, render, promoteIf(emptyBody), nil)

	_, err := tr.Get(context.Background(), "https://example.test/a")
	require.Error(t, err)
	require.Zero(t, render.calls)
}

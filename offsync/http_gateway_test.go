// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type capturedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

type recordingRecorder struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (r *recordingRecorder) Record(_ context.Context, url string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodies == nil {
		r.bodies = make(map[string]string)
	}
	r.bodies[url] = string(body)
	return nil
}

func newCapturingServer(t *testing.T, reply func(w http.ResponseWriter, r *http.Request, body []byte)) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, capturedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: string(body)})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		reply(w, r, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), got...)
	}
}

func TestHTTPGateway_RequestShapes(t *testing.T) {
	ctx := context.Background()
	srv, got := newCapturingServer(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"data":[{"id":1,"text":"a"}],"timestamp":7}`))
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"timestamp":9}`))
		default:
			_, _ = w.Write([]byte(`{"data":` + string(body) + `,"timestamp":8}`))
		}
	})

	rec := &recordingRecorder{}
	g := NewHTTPGateway[*note](srv.URL+"/v1/", "notes", quietLogger())
	g.Recorder = rec
	g.Token = func(context.Context) (string, error) { return "tok", nil }

	list, err := g.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), list.Timestamp)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "a", list.Data[0].Text)

	created, err := g.Create(ctx, &note{ID: 2, Text: "b"}, "key-create")
	require.NoError(t, err)
	assert.Equal(t, int64(2), created.Data.ID)
	assert.Equal(t, int64(8), created.Timestamp)

	_, err = g.Update(ctx, &note{ID: 2, Text: "c"}, "key-update")
	require.NoError(t, err)

	deleted, err := g.Delete(ctx, 2, "key-delete")
	require.NoError(t, err)
	assert.Equal(t, int64(9), deleted.Timestamp)

	reqs := got()
	require.Len(t, reqs, 4)
	assert.Equal(t, "GET", reqs[0].Method)
	assert.Equal(t, "/v1/notes", reqs[0].Path)
	assert.Equal(t, "POST", reqs[1].Method)
	assert.Equal(t, "/v1/notes", reqs[1].Path)
	assert.Equal(t, "key-create", reqs[1].Header.Get(HeaderIdempotencyKey))
	assert.Equal(t, "PUT", reqs[2].Method)
	assert.Equal(t, "/v1/notes/2", reqs[2].Path)
	assert.Equal(t, "DELETE", reqs[3].Method)
	assert.Equal(t, "/v1/notes/2", reqs[3].Path)
	for _, r := range reqs {
		assert.Equal(t, ContentTypeJSON, r.Header.Get(HeaderContentType))
		assert.Equal(t, "Bearer tok", r.Header.Get(HeaderAuthorization))
	}

	var sent note
	require.NoError(t, json.Unmarshal([]byte(reqs[2].Body), &sent))
	assert.Equal(t, "c", sent.Text)

	assert.Contains(t, rec.bodies[srv.URL+"/v1/notes"], `"timestamp":7`)
}

func TestHTTPGateway_StatusError(t *testing.T) {
	srv, _ := newCapturingServer(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid","message":"bad title"}`))
	})
	g := NewHTTPGateway[*note](srv.URL, "notes", quietLogger())

	_, err := g.Create(context.Background(), &note{ID: 1}, "k")
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Contains(t, se.Body, "bad title")
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.False(t, isTransportFailure(err))
}

func TestHTTPGateway_TransportFailure(t *testing.T) {
	g := NewHTTPGateway[*note]("http://offline.invalid", "notes", quietLogger())
	g.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})}

	_, err := g.List(context.Background())
	require.ErrorIs(t, err, ErrNetworkFailure)
	assert.True(t, isTransportFailure(err))
}

func TestHTTPGateway_MalformedBody(t *testing.T) {
	g := NewHTTPGateway[*note]("http://api.test", "notes", quietLogger())
	g.HTTP = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("<html>")),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})}

	_, err := g.List(context.Background())
	assert.ErrorIs(t, err, ErrNetworkFailure)
}

func TestHTTPGateway_TokenFailure(t *testing.T) {
	g := NewHTTPGateway[*note]("http://api.test", "notes", quietLogger())
	g.Token = func(context.Context) (string, error) { return "", errors.New("expired") }

	_, err := g.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestCollectionURL(t *testing.T) {
	assert.Equal(t, "https://api.test/tasks", CollectionURL("https://api.test/", "tasks"))
	g := NewHTTPGateway[*note]("https://api.test//", "tasks", nil)
	assert.Equal(t, "https://api.test/tasks", g.CollectionURL())
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ScanDrop/internal/model"
	"github.com/dharsanguruparan/ScanDrop/internal/repository"
)

type fakeEnvelopes struct {
	envelopes map[uuid.UUID]*model.Envelope
}

func (f *fakeEnvelopes) Get(_ context.Context, id uuid.UUID) (*model.Envelope, error) {
	env, ok := f.envelopes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return env, nil
}

func (f *fakeEnvelopes) ListByContainer(_ context.Context, container string) ([]*model.Envelope, error) {
	var out []*model.Envelope
	for _, env := range f.envelopes {
		if env.Container == container {
			out = append(out, env)
		}
	}
	return out, nil
}

type fakeEvents struct {
	events []*model.ProcessEvent
}

func (f *fakeEvents) ListByZip(_ context.Context, container, zipFileName string) ([]*model.ProcessEvent, error) {
	var out []*model.ProcessEvent
	for _, ev := range f.events {
		if ev.Container == container && ev.ZipFileName == zipFileName {
			out = append(out, ev)
		}
	}
	return out, nil
}

func newTestServer(envs ...*model.Envelope) (*Server, *fakeEvents) {
	store := &fakeEnvelopes{envelopes: map[uuid.UUID]*model.Envelope{}}
	for _, env := range envs {
		store.envelopes[env.ID] = env
	}
	events := &fakeEvents{}
	return New(":0", store, events, zerolog.Nop()), events
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEnvelope(t *testing.T) {
	env := &model.Envelope{
		ID:          uuid.New(),
		Container:   "sscs",
		ZipFileName: "env.zip",
		Status:      model.StatusProcessed,
	}
	srv, _ := newTestServer(env)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/envelopes/"+env.ID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view model.EnvelopeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, env.ID.String(), view.ID)
	require.Equal(t, model.StatusProcessed, view.Status)
	require.NotNil(t, view.ScannableItems)
}

func TestGetEnvelope_NotFound(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/envelopes/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEnvelope_BadID(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/envelopes/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEnvelopeEvents(t *testing.T) {
	env := &model.Envelope{ID: uuid.New(), Container: "sscs", ZipFileName: "env.zip"}
	srv, events := newTestServer(env)
	events.events = []*model.ProcessEvent{
		{Container: "sscs", ZipFileName: "env.zip", Event: model.EventZipProcessingStarted},
		{Container: "sscs", ZipFileName: "other.zip", Event: model.EventDocUploaded},
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/envelopes/"+env.ID.String()+"/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []*model.ProcessEventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, model.EventZipProcessingStarted, views[0].Event)
}

func TestListContainerEnvelopes(t *testing.T) {
	a := &model.Envelope{ID: uuid.New(), Container: "sscs", ZipFileName: "a.zip"}
	b := &model.Envelope{ID: uuid.New(), Container: "probate", ZipFileName: "b.zip"}
	srv, _ := newTestServer(a, b)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers/sscs/envelopes", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []*model.EnvelopeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "a.zip", views[0].ZipFileName)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/envelopes/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

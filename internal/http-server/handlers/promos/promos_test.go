package promos

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"matrixvpn/entity"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	promos map[string]*entity.PromoCode
}

func newFakeCore() *fakeCore {
	return &fakeCore{promos: make(map[string]*entity.PromoCode)}
}

func (f *fakeCore) AddPromo(_ context.Context, code string, days, uses int) error {
	if _, ok := f.promos[code]; ok {
		return entity.Invalid("promo code %q already exists", code)
	}
	f.promos[code] = &entity.PromoCode{Code: code, Days: days, IsActive: true, UsesRemaining: uses}
	return nil
}

func (f *fakeCore) ListPromos(_ context.Context) ([]*entity.PromoCode, error) {
	var out []*entity.PromoCode
	for _, p := range f.promos {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCore) DeletePromo(_ context.Context, code string) (bool, error) {
	_, ok := f.promos[code]
	delete(f.promos, code)
	return ok, nil
}

func newTestRouter(core Core) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/promos", List(log, core))
	r.Post("/promos", Create(log, core))
	r.Delete("/promos/{code}", Delete(log, core))
	return r
}

func TestCreateAndList(t *testing.T) {
	core := newFakeCore()
	router := newTestRouter(core)

	body := `{"code":"FREE7","days_duration":7,"uses_remaining":3}`
	req := httptest.NewRequest(http.MethodPost, "/promos", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/promos", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool               `json:"success"`
		Data    []entity.PromoCode `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "FREE7", resp.Data[0].Code)
	assert.Equal(t, 7, resp.Data[0].Days)
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	router := newTestRouter(newFakeCore())

	for _, body := range []string{
		`{"code":"x","days_duration":7,"uses_remaining":1}`, // code too short
		`{"code":"GOOD","days_duration":0}`,                 // missing duration
		`{broken`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/promos", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateDuplicate(t *testing.T) {
	core := newFakeCore()
	router := newTestRouter(core)
	require.NoError(t, core.AddPromo(context.Background(), "TAKEN", 7, 1))

	body := `{"code":"TAKEN","days_duration":7,"uses_remaining":1}`
	req := httptest.NewRequest(http.MethodPost, "/promos", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete(t *testing.T) {
	core := newFakeCore()
	router := newTestRouter(core)
	require.NoError(t, core.AddPromo(context.Background(), "GONE", 7, 1))

	req := httptest.NewRequest(http.MethodDelete, "/promos/GONE", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/promos/GONE", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

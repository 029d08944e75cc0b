package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etekaf/backend/internal/locations"
	"github.com/etekaf/backend/internal/models"
	"github.com/etekaf/backend/internal/registrations"
	"github.com/etekaf/backend/pkg/response"
	"github.com/etekaf/backend/pkg/storage"
)

type fakeLinker struct {
	keys map[string]bool
}

func (f *fakeLinker) Exists(_ context.Context, key string) (bool, error) {
	return f.keys[key], nil
}

func (f *fakeLinker) PresignGet(_ context.Context, key string) (string, error) {
	return "https://signed.example/" + key, nil
}

type fixture struct {
	router *gin.Engine
	paid   *models.Registration
	other  *models.Registration
	linker *fakeLinker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := registrations.NewMemoryStore()
	svc := registrations.NewService(store, locations.Default(), 650000, nil, nil)

	paid, err := svc.Create(ctx, registrations.CreateInput{
		FirstName: "Ali", LastName: "Rezaei", NationalCode: "1234567891", Mobile: "09121234567",
		BirthDate: "1990-01-01", Gender: models.GenderMale,
	})
	require.NoError(t, err)
	other, err := svc.Create(ctx, registrations.CreateInput{
		FirstName: "Sara", LastName: "Ahmadi", NationalCode: "0000000019", Mobile: "09350000000",
		BirthDate: "1992-05-05", Gender: models.GenderFemale,
	})
	require.NoError(t, err)

	const authority = "A000000000000000000000000000123456789"
	require.NoError(t, store.SetAuthority(ctx, paid.ID, authority))
	paid, err = store.MarkPaid(ctx, authority, models.PaymentResult{RefID: 987654, CardPan: "610433******1234", PaidAt: time.Now()})
	require.NoError(t, err)

	linker := &fakeLinker{keys: map[string]bool{}}
	h := NewHandler(store, linker, nil)
	r := gin.New()
	r.GET("/admin/registrations", h.List)
	r.GET("/admin/registrations/:id", h.Get)
	r.GET("/admin/registrations/:id/receipt", h.Receipt)
	r.GET("/admin/stats", h.Stats)
	return &fixture{router: r, paid: paid, other: other, linker: linker}
}

func (f *fixture) get(t *testing.T, path string) (int, response.Body) {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var out response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func TestList(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantTotal int
	}{
		{"all", "/admin/registrations", http.StatusOK, 2},
		{"paid only", "/admin/registrations?status=paid", http.StatusOK, 1},
		{"failed only", "/admin/registrations?status=failed", http.StatusOK, 0},
		{"search by surname", "/admin/registrations?q=ahmadi", http.StatusOK, 1},
		{"search by tracking code", "/admin/registrations?q=" + f.paid.TrackingCode, http.StatusOK, 1},
		{"bad status", "/admin/registrations?status=refunded", http.StatusBadRequest, 0},
		{"bad limit", "/admin/registrations?limit=-1", http.StatusBadRequest, 0},
		{"bad offset", "/admin/registrations?offset=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.get(t, tt.path)
			require.Equal(t, tt.wantCode, code)
			if code != http.StatusOK {
				assert.False(t, body.Success)
				return
			}
			require.NotNil(t, body.Meta)
			assert.Equal(t, tt.wantTotal, body.Meta.Total)
			assert.Len(t, body.Data, tt.wantTotal)
		})
	}

	_, body := f.get(t, "/admin/registrations?limit=1&offset=1")
	assert.Equal(t, 2, body.Meta.Total)
	assert.Equal(t, 1, body.Meta.Limit)
	assert.Len(t, body.Data, 1)

	_, body = f.get(t, "/admin/registrations?limit=100000")
	assert.Equal(t, maxLimit, body.Meta.Limit)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	code, body := f.get(t, "/admin/stats")
	require.Equal(t, http.StatusOK, code)
	data := body.Data.(map[string]any)
	assert.EqualValues(t, 2, data["total"])
	assert.EqualValues(t, 1, data["paid"])
	assert.EqualValues(t, 1, data["pending"])
	assert.EqualValues(t, 0, data["failed"])
	assert.EqualValues(t, 650000, data["revenue"])
}

func TestGet(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/admin/registrations/"+f.paid.ID.String())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1234567891", body.Data.(map[string]any)["national_code"])

	code, _ = f.get(t, "/admin/registrations/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/admin/registrations/00000000-0000-0000-0000-000000000001")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReceipt(t *testing.T) {
	f := newFixture(t)

	code, _ := f.get(t, "/admin/registrations/"+f.other.ID.String()+"/receipt")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := f.get(t, "/admin/registrations/"+f.paid.ID.String()+"/receipt")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "receipt not archived yet", body.Error)

	key := storage.ReceiptKey(f.paid.TrackingCode)
	f.linker.keys[key] = true
	code, body = f.get(t, "/admin/registrations/"+f.paid.ID.String()+"/receipt")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://signed.example/"+key, body.Data.(map[string]any)["url"])
}

func TestReceiptWithoutStorage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(registrations.NewMemoryStore(), nil, nil)
	r := gin.New()
	r.GET("/admin/registrations/:id/receipt", h.Receipt)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/registrations/00000000-0000-0000-0000-000000000001/receipt", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

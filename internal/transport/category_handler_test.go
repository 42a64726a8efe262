package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"marketplace/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCategoryRouter(products *stubProductService) (http.Handler, []*domain.Category) {
	categories := []*domain.Category{
		{ID: uuid.New(), Name: "자전거", Slug: "jajeongeo", IconName: "LiaBicycleSolid"},
		{ID: uuid.New(), Name: "카메라", Slug: "kamera", IconName: "FaCameraRetro"},
	}
	r := chi.NewRouter()
	NewCategoryHandler(&stubCategoryService{categories: categories}, products, zap.NewNop()).RegisterRoutes(r)
	return r, categories
}

func TestCategoryHandler_List(t *testing.T) {
	router, categories := newCategoryRouter(&stubProductService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/categories/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got []domain.Category
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, len(categories))
	assert.Equal(t, categories[0].Name, got[0].Name)
	assert.Equal(t, categories[0].IconName, got[0].IconName)
}

func TestCategoryHandler_ResolvesByIDNameOrSlug(t *testing.T) {
	router, categories := newCategoryRouter(&stubProductService{})
	bike := categories[0]

	for _, ref := range []string{bike.ID.String(), url.PathEscape(bike.Name), bike.Slug} {
		t.Run(ref, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/categories/"+ref, nil))

			require.Equal(t, http.StatusOK, w.Code)
			var got domain.Category
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.Equal(t, bike.ID, got.ID)
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/categories/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCategoryHandler_ProductsFiltersByCategory(t *testing.T) {
	products := &stubProductService{}
	router, categories := newCategoryRouter(products)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/categories/kamera/products?limit=8", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, products.filter.CategoryID)
	assert.Equal(t, categories[1].ID, *products.filter.CategoryID)
	assert.Equal(t, 8, products.page.Limit)

	products.calls = nil
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/categories/unknown/products", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, products.calls)
}

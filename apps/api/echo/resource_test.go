package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/taskpool/core/resource"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/tests"
)

func Test_resourceApi(t *testing.T) {
	srv, env := newTestServer(t)
	usrRepo := env.Repos.Users

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	alice := testutil.CreateStudent(t, usrRepo, "Alice", "alice")
	adminToken := getToken(t, srv, admin)
	aliceToken := getToken(t, srv, alice)

	cats, err := env.Svcs.Resources.Categories(context.Background())
	require.NoError(t, err)
	avatarID := cats[0].ID
	tk := testutil.CreateTask(t, env.Repos.Tasks, "", testutil.Dec("5"), task.StatusOpen, time.Now().UTC(), time.Hour)

	registerBody := []byte(`{"category_id": "` + avatarID + `", "files": [
		{"filename": "cat.png", "file_path": "resources/cat.png", "file_url": "https://cdn.test.cd/resources/cat.png", "file_size": 2048, "file_hash": "a1"},
		{"filename": "cat.txt", "file_path": "resources/cat.txt", "file_url": "https://cdn.test.cd/resources/cat.txt", "file_size": 2048, "file_hash": "a2"}
	]}`)

	runHTTPTests(t, srv, []httpTest{
		{name: "auth required", path: "/api/resources/categories", wantCode: http.StatusUnauthorized},
		{name: "admin only", path: "/api/resources/categories", token: aliceToken, wantCode: http.StatusForbidden},
		{name: "categories", path: "/api/resources/categories", token: adminToken},
		{
			name: "create category: bad code", method: http.MethodPost, path: "/api/resources/categories", token: adminToken,
			body: []byte(`{"category_code": "no-dashes", "category_name": "Nope"}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "create category", method: http.MethodPost, path: "/api/resources/categories", token: adminToken,
			body: []byte(`{"category_code": "poster", "category_name": "Posters"}`), wantCode: http.StatusCreated,
		},
		{
			name: "register: no files", method: http.MethodPost, path: "/api/resources/register", token: adminToken,
			body: []byte(`{"category_id": "` + avatarID + `", "files": []}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "register: unknown category", method: http.MethodPost, path: "/api/resources/register", token: adminToken,
			body: []byte(`{"category_id": "lol", "files": [{"filename": "a.png"}]}`), wantCode: http.StatusNotFound,
		},
		{name: "register", method: http.MethodPost, path: "/api/resources/register", token: adminToken, body: registerBody},
		{name: "images: bad status", path: "/api/resources/images?status=lost", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "images: bad date", path: "/api/resources/images?start_date=lol", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "image: unknown", path: "/api/resources/images/lol", token: adminToken, wantCode: http.StatusNotFound},
		{name: "tags", path: "/api/resources/tags", token: adminToken, wantData: []byte(`[]`)},
		{name: "stats", path: "/api/resources/stats", token: adminToken},
		{name: "category stats", path: "/api/resources/category-stats", token: adminToken},
		{
			name: "usage stats", path: "/api/resources/usage-stats", token: adminToken,
			wantData: []byte(`{"total_images": 1, "available_images": 1, "used_images": 0, "usage_rate": 0}`),
		},
		{
			name: "available image: unknown category", path: "/api/resources/available-image/lol", token: adminToken,
			wantData: []byte(`{"success": false, "used_at": null, "message": "category lol does not exist or is disabled"}`),
		},
		{
			name: "mark used: missing task", method: http.MethodPost, path: "/api/resources/mark-used", token: adminToken,
			body: []byte(`{"image_id": "lol"}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "batch delete: none", method: http.MethodPost, path: "/api/resources/images/batch-delete", token: adminToken,
			body: []byte(`{"image_ids": []}`), wantCode: http.StatusBadRequest,
		},
	})

	t.Run("list, claim and mark used", func(t *testing.T) {
		rec := do(srv, httpTest{path: "/api/resources/images?search_keyword=cat", token: adminToken})
		require.Equal(t, http.StatusOK, rec.Code)
		var page struct {
			Items []resource.Image `json:"items"`
			Total int              `json:"total"`
		}
		decode(t, rec, &page)
		require.Len(t, page.Items, 1)
		assert.Equal(t, 1, page.Total)
		img := page.Items[0]
		assert.Equal(t, "Avatar redesign", img.CategoryName)

		rec = do(srv, httpTest{path: "/api/resources/available-image/avatar_redesign", token: adminToken})
		require.Equal(t, http.StatusOK, rec.Code)
		var ai resource.AvailableImage
		decode(t, rec, &ai)
		assert.True(t, ai.Success)
		assert.Equal(t, img.ID, ai.ImageID)

		rec = do(srv, httpTest{
			method: http.MethodPost, path: "/api/resources/mark-used", token: adminToken,
			body: []byte(`{"image_id": "` + img.ID + `", "task_id": "` + tk.ID + `"}`),
		})
		require.Equal(t, http.StatusOK, rec.Code)

		runHTTPTests(t, srv, []httpTest{
			{
				name: "mark used: taken", method: http.MethodPost, path: "/api/resources/mark-used", token: adminToken,
				body: []byte(`{"image_id": "` + img.ID + `", "task_id": "` + tk.ID + `"}`), wantCode: http.StatusNotFound,
			},
			{
				name: "used to available", method: http.MethodPut, path: "/api/resources/images/" + img.ID + "/status", token: adminToken,
				body: []byte(`{"status": "available"}`), wantCode: http.StatusBadRequest,
			},
			{
				name: "delete used", method: http.MethodDelete, path: "/api/resources/images/" + img.ID, token: adminToken,
				wantCode: http.StatusBadRequest,
			},
			{
				name: "claim: none left", method: http.MethodPost, path: "/api/resources/claim-image/avatar_redesign", token: adminToken,
				wantData: []byte(`{"success": false, "used_at": null, "message": "no available image in category avatar_redesign"}`),
			},
		})
	})
}

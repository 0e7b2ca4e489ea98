package echoapi

import (
	"net/http"
	"testing"

	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/tests"
)

func Test_bonusApi(t *testing.T) {
	srv, env := newTestServer(t)
	usrRepo := env.Repos.Users

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	alice := testutil.CreateStudent(t, usrRepo, "Alice", "alice")
	adminToken := getToken(t, srv, admin)
	aliceToken := getToken(t, srv, alice)
	today := env.Svcs.Bonus.Today().Format("2006-01-02")

	runHTTPTests(t, srv, []httpTest{
		{name: "access: student only", path: "/api/bonus-pool/access", token: adminToken, wantCode: http.StatusForbidden},
		{
			name: "access: target not reached", path: "/api/bonus-pool/access", token: aliceToken,
			wantData: []byte(`{"date": "` + today + `", "has_access": false}`),
		},
		{name: "status: admin only", path: "/api/bonus-pool/status", token: aliceToken, wantCode: http.StatusForbidden},
		{name: "status: bad date", path: "/api/bonus-pool/status?date=lol", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "status", path: "/api/bonus-pool/status", token: adminToken},
		{name: "achievements: bad flag", path: "/api/bonus-pool/achievements?achieved=lol", token: adminToken, wantCode: http.StatusBadRequest},
		{name: "achievements", path: "/api/bonus-pool/achievements?achieved=true", token: adminToken},
		{name: "daily", method: http.MethodPost, path: "/api/bonus-pool/daily", token: adminToken},
		{name: "process expired", method: http.MethodPost, path: "/api/bonus-pool/process-expired", token: adminToken},
		{name: "auto confirm", method: http.MethodPost, path: "/api/bonus-pool/auto-confirm", token: adminToken},
	})
}

func Test_settingsApi(t *testing.T) {
	srv, env := newTestServer(t)
	admin := testutil.CreateUser(t, env.Repos.Users, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	token := getToken(t, srv, admin)

	runHTTPTests(t, srv, []httpTest{
		{name: "list", path: "/api/settings", token: token},
		{name: "unknown", path: "/api/settings/lol", token: token, wantCode: http.StatusNotFound},
		{name: "get", path: "/api/settings/bonus_pool_enabled", token: token},
		{
			name: "set", method: http.MethodPut, path: "/api/settings/bonus_pool_enabled", token: token,
			body: []byte(`{"value": "false"}`),
		},
		{
			name: "set: wrong type", method: http.MethodPut, path: "/api/settings/bonus_pool_enabled", token: token,
			body: []byte(`{"value": "lol"}`), wantCode: http.StatusBadRequest,
		},
	})
}

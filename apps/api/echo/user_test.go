package echoapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core/agent"
	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/tests"
)

func Test_userApi_login(t *testing.T) {
	srv, env := newTestServer(t)
	ctx := context.Background()
	usrRepo := env.Repos.Users

	pwd := "Kx7!mpqz2Lw"
	testutil.CreateUser(t, usrRepo, "User", "awe", "awe@test.cd", pwd, nil, true)
	testutil.CreateUser(t, usrRepo, "Naughty", "ndog", "ndog@test.cd", pwd, nil, false)

	withAgent := func(uname, status string) {
		a, err := env.Svcs.Agents.Create(ctx, agent.NewAgent{Name: "Agent " + uname, Status: status})
		if err != nil {
			t.Fatalf("Agents.Create(): %v", err)
		}
		usr := testutil.CreateUser(t, usrRepo, uname, uname, uname+"@test.cd", pwd, []string{user.RoleStudent}, true)
		usr.AgentID = null.StringFrom(a.ID)
		if _, err = usrRepo.UpdateUser(ctx, usr); err != nil {
			t.Fatalf("UpdateUser(): %v", err)
		}
	}
	withAgent("pending", agent.StatusPending)
	withAgent("disabled", agent.StatusDisabled)
	withAgent("normal", agent.StatusNormal)

	body := func(uname, pwd string) []byte {
		return marchallObj(t, LoginRequest{Username: uname, Password: pwd})
	}
	authFailed := marchallObj(t, httpErr{Error: "authentication failed"})

	tests := []httpTest{
		{name: "no data", body: []byte("{}"), wantCode: http.StatusBadRequest},
		{name: "unknown user", body: body("lol", pwd), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "wrong password", body: body("awe", "lol"), wantCode: http.StatusBadRequest, wantData: authFailed},
		{
			name: "deactivated", body: body("ndog", pwd), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "agent under review", body: body("pending", pwd), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "account under review"}),
		},
		{
			name: "agent disabled", body: body("disabled", pwd), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "agent account disabled"}),
		},
		{name: "agent normal", body: body("normal", pwd)},
		{name: "username", body: body("AWE", pwd)},
		{name: "email", body: body("awe@test.cd", pwd)},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/login"

		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, tt)
			checkCodeAndData(t, tt, rec)
			if rec.Code == http.StatusOK {
				var res LoginResponse
				decode(t, rec, &res)
				assert.NotEmpty(t, res.Token)
				if assert.NotNil(t, res.User) {
					assert.False(t, res.User.LastLogin.IsZero())
				}
			}
		})
	}

	// the issued token opens authed endpoints
	req, rec := newRequest(http.MethodPost, "/api/users/login", body("awe", pwd))
	srv.ServeHTTP(rec, req)
	var res LoginResponse
	decode(t, rec, &res)

	runHTTPTests(t, srv, []httpTest{
		{name: "me: auth required", path: "/api/users/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "me", path: "/api/users/me", token: res.Token},
		{name: "refresh", method: http.MethodPost, path: "/api/users/token-refresh", token: res.Token},
	})
}

func Test_userApi_create(t *testing.T) {
	srv, env := newTestServer(t)
	usrRepo := env.Repos.Users

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateStudent(t, usrRepo, "Hero", "hero")
	adminToken := getToken(t, srv, admin)

	newUser := func(uname string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "New " + uname,
			Username:        uname,
			Password:        "Kx7!mpqz2Lw",
			PasswordConfirm: "Kx7!mpqz2Lw",
			Roles:           roles,
			AgentID:         null.String{},
		})
	}

	tests := []httpTest{
		{name: "auth required", body: newUser("lol"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin required", body: newUser("lol"), token: getToken(t, srv, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "higher role", body: newUser("boss", user.RoleAdminOwner), token: adminToken, wantCode: http.StatusBadRequest,
			wantData: []byte(`{"roles": "not enough rights to set these roles"}`),
		},
		{name: "unknown role", body: newUser("lol", "lol:"), token: adminToken, wantCode: http.StatusBadRequest},
		{
			name: "unknown agent", token: adminToken, wantCode: http.StatusBadRequest,
			body: []byte(`{"name": "S", "username": "stud", "password": "Kx7!mpqz2Lw", "password_confirm": "Kx7!mpqz2Lw", "agent_id": "nope"}`),
		},
		{name: "student", body: newUser("stud2", user.RoleStudent), token: adminToken, wantCode: http.StatusCreated},
		{name: "duplicate username", body: newUser("stud2", user.RoleStudent), token: adminToken, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users/register"

		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, do(srv, tt))
		})
	}
}

func Test_userApi_resetPassword(t *testing.T) {
	srv, env := newTestServer(t)
	usrRepo := env.Repos.Users

	owner := testutil.CreateUser(t, usrRepo, "Owner", "owner", "owner@test.cd", "", []string{user.RoleAdminOwner}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateStudent(t, usrRepo, "Hero", "hero")
	token := getToken(t, srv, owner)

	runHTTPTests(t, srv, []httpTest{
		{
			name: "student", method: http.MethodPost, path: "/api/users/" + student.ID + "/reset-password", token: token,
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been reset to the default password."}),
		},
		{
			name: "admin", method: http.MethodPost, path: "/api/users/" + admin.ID + "/reset-password", token: token,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "admin passwords cannot be reset"}),
		},
		{name: "unknown", method: http.MethodPost, path: "/api/users/nope/reset-password", token: token, wantCode: http.StatusNotFound},
	})

	usr, err := env.Svcs.Users.GetByID(context.Background(), student.ID)
	if assert.NoError(t, err) {
		assert.NoError(t, usr.CheckPassword(user.DefaultPassword))
	}
}

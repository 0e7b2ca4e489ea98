package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/user"
)

func newUser(name, uname string, created time.Time, roles ...string) user.User {
	usr := user.User{Name: name, Username: uname, Email: uname + "@test.cd", Roles: roles, CreatedAt: created}
	usr.SetActive(true)
	return usr
}

func TestDB_InTx(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	repo := NewUserRepository(db)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err = db.InTx(ctx, func(ctx context.Context) error {
		if _, err := repo.CreateUser(ctx, newUser("Alice", "alice", time.Now())); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return db.InTx(ctx, func(ctx context.Context) error {
			if _, err := repo.GetUser(ctx, user.GetFilter{Username: "alice"}); err != nil {
				return err
			}
			return errBoom
		})
	})
	assert.Equal(t, errBoom, err)
	_, err = repo.GetUser(ctx, user.GetFilter{Username: "alice"})
	assert.Equal(t, user.ErrNotFound, err, "rolled back")

	err = db.InTx(ctx, func(ctx context.Context) error {
		_, err := repo.CreateUser(ctx, newUser("Alice", "alice", time.Now()))
		return err
	})
	require.NoError(t, err)
	_, err = repo.GetUser(ctx, user.GetFilter{Username: "alice"})
	assert.NoError(t, err)
}

func TestUserRepository(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	repo := NewUserRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	alice, err := repo.CreateUser(ctx, newUser("Alice", "alice", now.Add(-2*time.Hour), user.RoleStudent))
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, newUser("Bob", "bob", now.Add(-time.Hour), user.RoleStudent))
	require.NoError(t, err)
	admin, err := repo.CreateUser(ctx, newUser("Root", "root", now, user.RoleAdminOwner))
	require.NoError(t, err)

	t.Run("CheckUniqueness", func(t *testing.T) {
		assert.Equal(t, user.ErrUsernameExists, repo.CheckUniqueness(ctx, "alice", ""))
		assert.Equal(t, user.ErrEmailExists, repo.CheckUniqueness(ctx, "", "bob@test.cd"))
		assert.NoError(t, repo.CheckUniqueness(ctx, "alice", "alice@test.cd", alice))
		assert.NoError(t, repo.CheckUniqueness(ctx, "carol", "carol@test.cd"))
	})

	t.Run("GetUser", func(t *testing.T) {
		usr, err := repo.GetUser(ctx, user.GetFilter{ID: bob.ID})
		require.NoError(t, err)
		assert.Equal(t, "bob", usr.Username)

		usr, err = repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{"root@test.cd", "root@test.cd"}})
		require.NoError(t, err)
		assert.Equal(t, admin.ID, usr.ID)

		_, err = repo.GetUser(ctx, user.GetFilter{})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("QueryUsers", func(t *testing.T) {
		inactive := false
		tests := []struct {
			name     string
			filter   *user.QueryFilter
			ordering []core.DBOrdering
			want     []string
		}{
			{name: "all, newest first", ordering: []core.DBOrdering{{Field: "created_at"}}, want: []string{"root", "bob", "alice"}},
			{name: "students by name", filter: &user.QueryFilter{Roles: user.StudentRoles}, ordering: []core.DBOrdering{{Field: "name", Ascending: true}}, want: []string{"alice", "bob"}},
			{name: "search", filter: &user.QueryFilter{Search: "ROO"}, want: []string{"root"}},
			{name: "exact name", filter: &user.QueryFilter{Name: "Bob"}, want: []string{"bob"}},
			{name: "inactive", filter: &user.QueryFilter{IsActive: &inactive}, want: []string{}},
			{name: "created window", filter: &user.QueryFilter{CreatedFrom: now.Add(-90 * time.Minute), CreatedTo: now.Add(-time.Minute)}, want: []string{"bob"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				users, err := repo.QueryUsers(ctx, tt.filter, tt.ordering)
				require.NoError(t, err)
				got := make([]string, 0, len(users))
				for _, u := range users {
					got = append(got, u.Username)
				}
				if tt.ordering == nil {
					assert.ElementsMatch(t, tt.want, got)
				} else {
					assert.Equal(t, tt.want, got)
				}
			})
		}
	})

	t.Run("UpdateAndDelete", func(t *testing.T) {
		bob.Name = "Robert"
		_, err := repo.UpdateUser(ctx, bob)
		require.NoError(t, err)
		usr, err := repo.GetUser(ctx, user.GetFilter{ID: bob.ID})
		require.NoError(t, err)
		assert.Equal(t, "Robert", usr.Name)

		_, err = repo.UpdateUser(ctx, user.User{ID: "lol"})
		assert.Equal(t, user.ErrNotFound, err)

		require.NoError(t, repo.DeleteUsers(ctx, bob.ID, "lol"))
		_, err = repo.GetUser(ctx, user.GetFilter{ID: bob.ID})
		assert.Equal(t, user.ErrNotFound, err)
	})
}

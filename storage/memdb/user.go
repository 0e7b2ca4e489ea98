package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, u := range excludedUsers {
		if u.ID == usr.ID {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	users, err := list[user.User](repo.db.read(ctx), tableUser, func(u user.User) bool {
		return !isExcluded(u, excludedUsers)
	})
	if err != nil {
		return err
	}
	for _, usr := range users {
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableUser, usr)
	})
	return usr, err
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	users, err := list[user.User](repo.db.read(ctx), tableUser, filter.Match)
	if err != nil {
		return nil, err
	}
	for i := len(ordering) - 1; i >= 0; i-- {
		ord := ordering[i]
		sort.SliceStable(users, func(a, b int) bool {
			if !ord.Ascending {
				a, b = b, a
			}
			return userLess(ord.Field, users[a], users[b])
		})
	}
	return users, nil
}

func userLess(field string, a, b user.User) bool {
	switch field {
	case "name":
		return a.Name < b.Name
	case "username":
		return a.Username < b.Username
	case "email":
		return a.Email < b.Email
	case "last_login":
		return a.LastLogin.Before(b.LastLogin)
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	txn := repo.db.read(ctx)
	if filter.ID != "" {
		return first[user.User](txn, tableUser, filter.ID, user.ErrNotFound)
	}
	users, err := list[user.User](txn, tableUser, func(u user.User) bool {
		switch {
		case filter.Username != "":
			return u.Username == filter.Username
		case filter.Email != "":
			return u.Email == filter.Email
		case len(filter.UsernameOrEmail) > 0:
			uname := filter.UsernameOrEmail[0]
			email := uname
			if len(filter.UsernameOrEmail) == 2 && filter.UsernameOrEmail[1] != "" {
				email = filter.UsernameOrEmail[1]
			}
			return (uname != "" && u.Username == uname) || (email != "" && u.Email == email)
		}
		return false
	})
	if err != nil {
		return user.User{}, err
	}
	if len(users) == 0 {
		return user.User{}, user.ErrNotFound
	}
	return users[0], nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableUser, usr.ID, usr, user.ErrNotFound)
	})
	return usr, err
}

func (repo *userRepository) DeleteUsers(ctx context.Context, ids ...string) error {
	return repo.db.write(ctx, func(txn *memdb.Txn) error {
		return remove(txn, tableUser, ids...)
	})
}

package services

import (
	"strings"

	"github.com/jkweon/tandem/internal/kv"
)

// localAccountStore keeps accounts in the local tier for deployments that
// run without the account-backed database.
type localAccountStore struct {
	store kv.Store
}

func NewLocalAccountStore(store kv.Store) AccountStore {
	return &localAccountStore{store: store}
}

func userKey(email string) string { return "user:" + strings.ToLower(strings.TrimSpace(email)) }

func (s *localAccountStore) FindUserByEmail(email string) (*User, error) {
	var u User
	ok, err := kv.GetJSON(s.store, userKey(email), &u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *localAccountStore) AddUser(u *User) error {
	if u == nil {
		return NewInvalidError("user required")
	}
	return kv.SetJSON(s.store, userKey(u.Email), u)
}

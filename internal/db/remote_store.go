package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkweon/tandem/internal/services"
)

// RemoteStore is the account-backed tier over sqlite. It implements the
// result, invitation and account store contracts the services layer accepts;
// callers treat it as best-effort and fall back to the local tier.
type RemoteStore struct {
	db *sql.DB
}

func NewRemoteStore(db *sql.DB) (*RemoteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &RemoteStore{db: db}, nil
}

func (s *RemoteStore) logErr(prefix string, err error) {
	if err != nil {
		log.Printf("remote store: %s: %v", prefix, err)
	}
}

func remoteID() string {
	return "res_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func toNullString(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// SaveResult inserts the record under a freshly minted remote id and
// returns it; the caller re-keys its local copy to that id.
func (s *RemoteStore) SaveResult(identityKey, testID string, rec *services.ResultRecord) (string, error) {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return "", err
	}
	var outcome []byte
	if rec.Outcome != nil {
		outcome, err = json.Marshal(rec.Outcome)
		if err != nil {
			return "", err
		}
	}
	id := remoteID()
	_, err = s.db.Exec(
		`INSERT INTO results (id, test_id, identity_key, answers, outcome, completed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, testID, identityKey, string(answers), toNullString(string(outcome)), rec.CompletedAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetResult returns (nil, nil) when the id is unknown.
func (s *RemoteStore) GetResult(id string) (*services.ResultRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, test_id, identity_key, answers, outcome, completed_at FROM results WHERE id = ?`, id,
	)
	var rec services.ResultRecord
	var answers string
	var outcome sql.NullString
	if err := row.Scan(&rec.ID, &rec.TestID, &rec.IdentityKey, &answers, &outcome, &rec.CompletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
		return nil, err
	}
	if outcome.Valid && outcome.String != "" {
		rec.Outcome = &services.Outcome{}
		if err := json.Unmarshal([]byte(outcome.String), rec.Outcome); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

// SaveInvitation mirrors an issued invitation; re-saving the same token
// (delivery flag updates) overwrites.
func (s *RemoteStore) SaveInvitation(inv *services.Invitation) error {
	_, err := s.db.Exec(
		`INSERT INTO invitations (token, test_id, source_result_id, inviter_name, inviter_email, recipient, category, language, link, delivered, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET delivered = excluded.delivered, link = excluded.link`,
		inv.Token, inv.TestID, inv.SourceResultID, inv.InviterName, toNullString(inv.InviterEmail),
		inv.Recipient, toNullString(inv.Category), inv.Language, inv.Link,
		boolToInt64(inv.Delivered), inv.CreatedAt, inv.ExpiresAt,
	)
	return err
}

// GetInvitation returns (nil, nil) when the token is unknown.
func (s *RemoteStore) GetInvitation(token string) (*services.Invitation, error) {
	row := s.db.QueryRow(
		`SELECT token, test_id, source_result_id, inviter_name, inviter_email, recipient, category, language, link, delivered, created_at, expires_at
		 FROM invitations WHERE token = ?`, token,
	)
	var inv services.Invitation
	var inviterEmail, category sql.NullString
	var delivered int64
	if err := row.Scan(&inv.Token, &inv.TestID, &inv.SourceResultID, &inv.InviterName, &inviterEmail,
		&inv.Recipient, &category, &inv.Language, &inv.Link, &delivered, &inv.CreatedAt, &inv.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	inv.InviterEmail = inviterEmail.String
	inv.Category = category.String
	inv.Delivered = delivered != 0
	return &inv, nil
}

// FindUserByEmail returns (nil, nil) when no account matches.
func (s *RemoteStore) FindUserByEmail(email string) (*services.User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, pass_hash, created_at FROM users WHERE email = ?`, email,
	)
	var u services.User
	if err := row.Scan(&u.ID, &u.Email, &u.PassHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *RemoteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, pass_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PassHash, u.CreatedAt,
	)
	return err
}

// PurgeExpiredInvitations removes tokens past their expiry. Run
// opportunistically from the server loop.
func (s *RemoteStore) PurgeExpiredInvitations(now time.Time) {
	_, err := s.db.Exec(`DELETE FROM invitations WHERE expires_at < ?`, now)
	s.logErr("purge expired invitations", err)
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

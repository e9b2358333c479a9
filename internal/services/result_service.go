package services

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkweon/tandem/internal/kv"
)

// RemoteResultStore is the account-backed tier. Availability is not
// guaranteed; every failure must be recoverable from the local tier.
type RemoteResultStore interface {
	SaveResult(identityKey, testID string, rec *ResultRecord) (string, error)
	GetResult(id string) (*ResultRecord, error) // (nil, nil) when not found
}

// ResultService writes completed results to the local tier unconditionally
// and to the remote tier for authenticated identities, reconciling the two
// identifiers so lookups by the canonical id succeed against either tier.
type ResultService struct {
	local  kv.Store
	remote RemoteResultStore // nil when no remote tier is configured
	now    func() time.Time
	idGen  func() string
}

func NewResultService(local kv.Store, remote RemoteResultStore) *ResultService {
	return &ResultService{
		local:  local,
		remote: remote,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  func() string { return "loc_" + shortID(12) },
	}
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func resultKey(id string) string { return "result:" + id }

// Persist records a completed result. The local write always happens first
// and always succeeds as far as the caller is concerned; the remote write
// is attempted only for authenticated identities, and on success the local
// record is re-keyed to the remote identifier, which becomes canonical.
func (s *ResultService) Persist(identityKey, testID string, answers AnswerSet, outcome *Outcome) (*ResultRecord, error) {
	rec := &ResultRecord{
		ID:          s.idGen(),
		TestID:      testID,
		IdentityKey: identityKey,
		Answers:     answers,
		Outcome:     outcome,
		CompletedAt: s.now(),
	}
	if err := kv.SetJSON(s.local, resultKey(rec.ID), rec); err != nil {
		// local-first durability is the one hard requirement
		return nil, err
	}
	if identityKey == AnonymousIdentity || s.remote == nil {
		return rec, nil
	}
	remoteID, err := s.remote.SaveResult(identityKey, testID, rec)
	if err != nil {
		log.Printf("result service: remote save %s: %v (local id %s stays canonical)", testID, err, rec.ID)
		return rec, nil
	}
	localID := rec.ID
	rec.ID = remoteID
	if err := kv.SetJSON(s.local, resultKey(remoteID), rec); err != nil {
		// remote id stays canonical; the next Lookup falls through to the
		// remote tier and re-caches under it
		log.Printf("result service: re-key %s -> %s: %v", localID, remoteID, err)
		return rec, nil
	}
	s.local.Delete(resultKey(localID))
	return rec, nil
}

// Lookup resolves a result by its canonical id, local tier first. A local
// miss falls through to the remote tier and re-caches the record locally,
// which also heals a failed re-key after a successful remote write.
func (s *ResultService) Lookup(id string) (*ResultRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrResultNotFound
	}
	var rec ResultRecord
	ok, err := kv.GetJSON(s.local, resultKey(id), &rec)
	if err == nil && ok {
		return &rec, nil
	}
	if err != nil {
		log.Printf("result service: local lookup %s: %v", id, err)
	}
	if s.remote == nil {
		return nil, ErrResultNotFound
	}
	remote, err := s.remote.GetResult(id)
	if err != nil {
		log.Printf("result service: remote lookup %s: %v", id, err)
		return nil, ErrResultNotFound
	}
	if remote == nil {
		return nil, ErrResultNotFound
	}
	if err := kv.SetJSON(s.local, resultKey(id), remote); err != nil {
		log.Printf("result service: re-cache %s: %v", id, err)
	}
	return remote, nil
}

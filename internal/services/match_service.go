package services

import (
	"log"
	"strconv"
	"time"

	"github.com/jkweon/tandem/internal/kv"
	"github.com/jkweon/tandem/internal/utils"
)

type MatchState string

const (
	StateAwaitingPartner  MatchState = "awaiting_partner"
	StatePartnerCompleted MatchState = "partner_completed"
	StateMatched          MatchState = "matched"
	StateMatchFailed      MatchState = "match_failed"
)

// MatchRecord pins the one-shot matching outcome for a (source result,
// recipient) pair so that revisiting a matched link never re-triggers
// delivery.
type MatchRecord struct {
	SourceResultID string        `json:"source_result_id"`
	Recipient      string        `json:"recipient"`
	State          MatchState    `json:"state"`
	Joint          *JointOutcome `json:"joint,omitempty"`
	PartnerResult  string        `json:"partner_result_id,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// MatchOutcome is what the visiting session gets back: always the
// invitee's individual result, plus the joint outcome when matching
// succeeded.
type MatchOutcome struct {
	State      MatchState
	Individual *Outcome
	Joint      *JointOutcome
}

// MatchService owns the partner-matching state machine. The invitation
// link is the transport for the correlation identifier; this service is
// the source of truth for match state.
type MatchService struct {
	local    kv.Store
	results  ResultResolver
	registry *Registry
	engine   *ScoringEngine
	mailer   Mailer
	invites  interface {
		Resolve(token string) (*Invitation, error)
	}
	now func() time.Time
}

func NewMatchService(local kv.Store, results ResultResolver, registry *Registry, engine *ScoringEngine, invites *InviteService, mailer Mailer) *MatchService {
	return &MatchService{
		local:    local,
		results:  results,
		registry: registry,
		engine:   engine,
		mailer:   mailer,
		invites:  invites,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func matchKey(sourceResultID, recipient string) string {
	return "match:" + sourceResultID + ":" + recipient
}

// State reports the current state for an issued invitation: awaiting until
// a second completion arrives, then whatever the one-shot match recorded.
func (s *MatchService) State(sourceResultID, recipient string) MatchState {
	var rec MatchRecord
	ok, err := kv.GetJSON(s.local, matchKey(sourceResultID, recipient), &rec)
	if err != nil || !ok {
		return StateAwaitingPartner
	}
	return rec.State
}

// HandlePartnerCompletion runs the AwaitingPartner transitions for a
// session that was opened through an invitation link and has just produced
// its own result. The peer result is resolved via the identifier carried
// by the link, never via server-side session state.
func (s *MatchService) HandlePartnerCompletion(link *InvitationLink, partner *ResultRecord) (*MatchOutcome, error) {
	if link == nil || partner == nil {
		return nil, ErrInvalidInvitation
	}
	// the token must still resolve; an expired or fabricated link is
	// terminal regardless of what its parameters claim
	if _, err := s.invites.Resolve(link.Token); err != nil {
		return nil, ErrInvalidInvitation
	}
	key := matchKey(link.TestResultID, link.Email)

	// one-shot: a recorded terminal state is returned as-is, without
	// re-triggering delivery
	var existing MatchRecord
	if ok, err := kv.GetJSON(s.local, key, &existing); err == nil && ok {
		if existing.State == StateMatched || existing.State == StateMatchFailed {
			return &MatchOutcome{State: existing.State, Individual: partner.Outcome, Joint: existing.Joint}, nil
		}
	}

	source, err := s.results.Lookup(link.TestResultID)
	if err != nil {
		// degrade to individual result only; never fabricate a joint score
		s.record(key, MatchRecord{
			SourceResultID: link.TestResultID,
			Recipient:      link.Email,
			State:          StateMatchFailed,
			PartnerResult:  partner.ID,
		})
		return &MatchOutcome{State: StateMatchFailed, Individual: partner.Outcome}, nil
	}

	s.record(key, MatchRecord{
		SourceResultID: link.TestResultID,
		Recipient:      link.Email,
		State:          StatePartnerCompleted,
		PartnerResult:  partner.ID,
	})

	def := s.registry.Get(partner.TestID)
	joint, err := s.engine.ScoreJoint(def, source.Answers, partner.Answers)
	if err != nil {
		s.record(key, MatchRecord{
			SourceResultID: link.TestResultID,
			Recipient:      link.Email,
			State:          StateMatchFailed,
			PartnerResult:  partner.ID,
		})
		return &MatchOutcome{State: StateMatchFailed, Individual: partner.Outcome}, nil
	}

	s.record(key, MatchRecord{
		SourceResultID: link.TestResultID,
		Recipient:      link.Email,
		State:          StateMatched,
		Joint:          joint,
		PartnerResult:  partner.ID,
	})
	s.deliverJoint(link, joint)
	return &MatchOutcome{State: StateMatched, Individual: partner.Outcome, Joint: joint}, nil
}

func (s *MatchService) record(key string, rec MatchRecord) {
	rec.UpdatedAt = s.now()
	if err := kv.SetJSON(s.local, key, rec); err != nil {
		log.Printf("match service: record %s: %v", key, err)
	}
}

// deliverJoint notifies both parties. The inviter's contact point comes
// from the stored invitation; if that is gone, only the invitee is
// notified. Transport failures are logged, never fatal to the match.
func (s *MatchService) deliverJoint(link *InvitationLink, joint *JointOutcome) {
	if s.mailer == nil {
		return
	}
	params := map[string]string{
		"template":      "joint_result",
		"lang":          link.Language,
		"subject":       utils.T(link.Language, "mail.joint.subject"),
		"compatibility": strconv.Itoa(joint.Compatibility),
		"summary":       joint.Summary,
	}
	if err := s.mailer.Send(link.Email, params); err != nil {
		log.Printf("match service: deliver to invitee %s: %v", link.Email, err)
	}
	inv, err := s.invites.Resolve(link.Token)
	if err != nil || inv.InviterEmail == "" {
		log.Printf("match service: inviter contact unavailable for token %s", link.Token)
		return
	}
	if err := s.mailer.Send(inv.InviterEmail, params); err != nil {
		log.Printf("match service: deliver to inviter %s: %v", inv.InviterEmail, err)
	}
}

package services

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jkweon/tandem/internal/kv"
)

func testMatchSetup(t *testing.T, source *ResultRecord) (*MatchService, *InviteService, *stubMailer, *InvitationLink) {
	t.Helper()
	local := kv.NewMemoryStore()
	invites := testInviteService(local, &stubMailer{}, source)
	mailer := &stubMailer{}
	resolver := stubResolver{}
	if source != nil {
		resolver[source.ID] = source
	}
	matches := NewMatchService(local, resolver, NewRegistry(), NewScoringEngine(), invites, mailer)

	out, err := invites.Invite(InviteRequest{
		SourceResultID: "res_src",
		InviterName:    "Jamie",
		InviterEmail:   "jamie@example.com",
		Recipients:     []string{"partner@example.com"},
		Language:       "en",
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	link := &InvitationLink{
		Token:        out[0].Token,
		InviterName:  out[0].InviterName,
		TestID:       out[0].TestID,
		TestResultID: out[0].SourceResultID,
		Email:        out[0].Recipient,
		Language:     out[0].Language,
	}
	return matches, invites, mailer, link
}

func TestPartnerCompletionMatches(t *testing.T) {
	source := coupleSource()
	matches, _, mailer, link := testMatchSetup(t, source)

	if got := matches.State(link.TestResultID, link.Email); got != StateAwaitingPartner {
		t.Fatalf("before completion want awaiting_partner, got %s", got)
	}

	partner := &ResultRecord{
		ID: "res_partner", TestID: "couple-compatibility", IdentityKey: AnonymousIdentity,
		Answers: coupleAnswers(3), Outcome: &Outcome{TypeTag: "balanced"},
	}
	out, err := matches.HandlePartnerCompletion(link, partner)
	if err != nil {
		t.Fatalf("partner completion: %v", err)
	}
	if out.State != StateMatched {
		t.Fatalf("want matched, got %s", out.State)
	}
	if out.Individual == nil {
		t.Fatalf("invitee must always get the individual result")
	}

	want, err := NewScoringEngine().ScoreJoint(NewRegistry().Get("couple-compatibility"), source.Answers, partner.Answers)
	if err != nil {
		t.Fatalf("reference joint score: %v", err)
	}
	if !reflect.DeepEqual(out.Joint, want) {
		t.Fatalf("joint outcome must equal the pairwise rubric: %+v vs %+v", out.Joint, want)
	}

	// both parties notified
	if len(mailer.sent) != 2 || mailer.sent[0] != "partner@example.com" || mailer.sent[1] != "jamie@example.com" {
		t.Fatalf("joint delivery wrong: %v", mailer.sent)
	}

	if got := matches.State(link.TestResultID, link.Email); got != StateMatched {
		t.Fatalf("state must be matched after completion, got %s", got)
	}
}

func TestPartnerCompletionIsOneShot(t *testing.T) {
	source := coupleSource()
	matches, _, mailer, link := testMatchSetup(t, source)

	partner := &ResultRecord{
		ID: "res_partner", TestID: "couple-compatibility",
		Answers: coupleAnswers(5), Outcome: &Outcome{TypeTag: "devoted"},
	}
	first, err := matches.HandlePartnerCompletion(link, partner)
	if err != nil {
		t.Fatalf("first completion: %v", err)
	}
	sends := len(mailer.sent)

	second, err := matches.HandlePartnerCompletion(link, partner)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if second.State != first.State || !reflect.DeepEqual(second.Joint, first.Joint) {
		t.Fatalf("revisiting a matched link must return the recorded outcome")
	}
	if len(mailer.sent) != sends {
		t.Fatalf("revisit must not re-trigger delivery: %d -> %d", sends, len(mailer.sent))
	}
}

func TestPartnerCompletionExpiredTokenRejected(t *testing.T) {
	source := coupleSource()
	matches, invites, mailer, link := testMatchSetup(t, source)

	// past the 30-day invitation window
	invites.now = func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) }

	partner := &ResultRecord{
		ID: "res_partner", TestID: "couple-compatibility",
		Answers: coupleAnswers(3), Outcome: &Outcome{TypeTag: "balanced"},
	}
	if _, err := matches.HandlePartnerCompletion(link, partner); !errors.Is(err, ErrInvalidInvitation) {
		t.Fatalf("expired token must be terminal, got %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("an expired link must never trigger delivery: %v", mailer.sent)
	}
	if got := matches.State(link.TestResultID, link.Email); got != StateAwaitingPartner {
		t.Fatalf("no match state may be recorded for an expired link, got %s", got)
	}
}

func TestPartnerCompletionFabricatedTokenRejected(t *testing.T) {
	source := coupleSource()
	matches, _, mailer, link := testMatchSetup(t, source)

	link.Token = "forged-token"
	partner := &ResultRecord{
		ID: "res_partner", TestID: "couple-compatibility",
		Answers: coupleAnswers(3), Outcome: &Outcome{TypeTag: "balanced"},
	}
	if _, err := matches.HandlePartnerCompletion(link, partner); !errors.Is(err, ErrInvalidInvitation) {
		t.Fatalf("unknown token must be terminal, got %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("an unknown token must never trigger delivery: %v", mailer.sent)
	}
}

func TestPartnerCompletionMissingSourceFails(t *testing.T) {
	source := coupleSource()
	matches, _, _, link := testMatchSetup(t, source)

	// the link survived the source result
	link.TestResultID = "res_gone"

	partner := &ResultRecord{
		ID: "res_partner", TestID: "couple-compatibility",
		Answers: coupleAnswers(2), Outcome: &Outcome{TypeTag: "independent"},
	}
	out, err := matches.HandlePartnerCompletion(link, partner)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if out.State != StateMatchFailed {
		t.Fatalf("missing source must fail the match, got %s", out.State)
	}
	if out.Joint != nil {
		t.Fatalf("a failed match must never carry a fabricated joint outcome")
	}
	if out.Individual == nil {
		t.Fatalf("invitee keeps the individual result on failure")
	}
}

func TestPartnerCompletionMalformedPeerDataFails(t *testing.T) {
	source := coupleSource()
	source.Answers = coupleAnswers(3)
	delete(source.Answers, "cc9")
	matches, _, _, link := testMatchSetup(t, source)

	partner := &ResultRecord{
		ID: "res_partner", TestID: "couple-compatibility",
		Answers: coupleAnswers(3), Outcome: &Outcome{TypeTag: "balanced"},
	}
	out, err := matches.HandlePartnerCompletion(link, partner)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if out.State != StateMatchFailed || out.Joint != nil {
		t.Fatalf("incomplete source answers must fail closed: %+v", out)
	}
}

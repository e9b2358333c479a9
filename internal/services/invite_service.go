package services

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/jkweon/tandem/internal/kv"
	"github.com/jkweon/tandem/internal/utils"
)

// DefaultInvitationTTL bounds how long an issued token stays resolvable.
const DefaultInvitationTTL = 30 * 24 * time.Hour

// RemoteInviteStore mirrors issued invitations to the account-backed tier,
// best effort.
type RemoteInviteStore interface {
	SaveInvitation(inv *Invitation) error
	GetInvitation(token string) (*Invitation, error) // (nil, nil) when not found
}

// Mailer is the outbound transport contract. Delivery failure is never
// fatal to invitation issuance.
type Mailer interface {
	Send(recipient string, params map[string]string) error
}

// ResultResolver is the slice of ResultService the invitation manager needs.
type ResultResolver interface {
	Lookup(id string) (*ResultRecord, error)
}

// InviteService mints tokenized links for partner and reviewer tests and
// delegates delivery to the transport.
type InviteService struct {
	local    kv.Store
	remote   RemoteInviteStore // nil when no remote tier is configured
	results  ResultResolver
	registry *Registry
	mailer   Mailer
	baseURL  string
	ttl      time.Duration
	now      func() time.Time
	tokenGen func() string
}

func NewInviteService(local kv.Store, remote RemoteInviteStore, results ResultResolver, registry *Registry, mailer Mailer, baseURL string) *InviteService {
	return &InviteService{
		local:    local,
		remote:   remote,
		results:  results,
		registry: registry,
		mailer:   mailer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		ttl:      DefaultInvitationTTL,
		now:      func() time.Time { return time.Now().UTC() },
		tokenGen: func() string { return randomToken(24) },
	}
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Printf("invite service: generate token: %v", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func inviteKey(token string) string { return "invite:" + token }

// InviteRequest carries the validated issuance input.
type InviteRequest struct {
	SourceResultID string
	InviterName    string
	InviterEmail   string
	Recipients     []string
	Category       string
	Language       string
}

// Invite validates the request, mints one invitation per recipient and
// attempts delivery. Generated links are returned even when the transport
// fails so the caller can fall back to manual sharing.
func (s *InviteService) Invite(req InviteRequest) ([]*Invitation, error) {
	if strings.TrimSpace(req.InviterName) == "" {
		return nil, NewInvalidError("inviter name required")
	}
	src, err := s.results.Lookup(req.SourceResultID)
	if err != nil {
		return nil, NewNotFoundError("source result not found")
	}
	recipients := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, err := mail.ParseAddress(r); err != nil {
			return nil, NewInvalidError("invalid recipient address: " + r)
		}
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return nil, NewInvalidError("at least one recipient required")
	}
	def := s.registry.Get(src.TestID)
	if def == nil {
		return nil, ErrTestNotFound
	}
	// partnered tests correlate against exactly one peer result
	if def.RequiresPartner && len(recipients) != 1 {
		return nil, NewInvalidError("partnered tests take exactly one recipient")
	}
	// the category belongs to the source test; a conflicting request never
	// reaches the link
	if req.Category != "" && req.Category != def.Category {
		return nil, NewInvalidError("category does not match test " + src.TestID)
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	now := s.now()
	displayName := utils.FormatDisplayName(lang, req.InviterName)
	out := make([]*Invitation, 0, len(recipients))
	for _, recipient := range recipients {
		inv := &Invitation{
			Token:          s.tokenGen(),
			TestID:         src.TestID,
			SourceResultID: src.ID,
			InviterName:    displayName,
			InviterEmail:   strings.TrimSpace(req.InviterEmail),
			Recipient:      recipient,
			Category:       def.Category,
			Language:       lang,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.ttl),
		}
		inv.Link = s.buildLink(inv)
		if err := kv.SetJSON(s.local, inviteKey(inv.Token), inv); err != nil {
			return nil, err
		}
		if s.remote != nil {
			if err := s.remote.SaveInvitation(inv); err != nil {
				log.Printf("invite service: remote mirror %s: %v", inv.Token, err)
			}
		}
		inv.Delivered = s.deliver(inv)
		if err := kv.SetJSON(s.local, inviteKey(inv.Token), inv); err != nil {
			log.Printf("invite service: record delivery %s: %v", inv.Token, err)
		}
		out = append(out, inv)
	}
	return out, nil
}

// buildLink encodes everything the receiving session needs to resolve the
// invitation without a server round trip.
func (s *InviteService) buildLink(inv *Invitation) string {
	q := url.Values{}
	q.Set("token", inv.Token)
	q.Set("name", inv.InviterName)
	q.Set("testId", inv.TestID)
	q.Set("testResultId", inv.SourceResultID)
	q.Set("email", inv.Recipient)
	q.Set("lang", inv.Language)
	if inv.Category != "" {
		q.Set("category", inv.Category)
	}
	return s.baseURL + "/tests/" + url.PathEscape(inv.TestID) + "?" + q.Encode()
}

func (s *InviteService) deliver(inv *Invitation) bool {
	if s.mailer == nil {
		return false
	}
	err := s.mailer.Send(inv.Recipient, map[string]string{
		"template":  "invitation",
		"from_name": inv.InviterName,
		"link":      inv.Link,
		"lang":      inv.Language,
		"subject":   utils.T(inv.Language, "mail.invitation.subject"),
	})
	if err != nil {
		log.Printf("invite service: deliver to %s: %v (link kept for manual sharing)", inv.Recipient, err)
		return false
	}
	return true
}

// Resolve returns the invitation for token, local tier first, then the
// remote mirror. Unknown and expired tokens are both ErrInvalidInvitation.
func (s *InviteService) Resolve(token string) (*Invitation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidInvitation
	}
	var inv Invitation
	ok, err := kv.GetJSON(s.local, inviteKey(token), &inv)
	if err != nil {
		log.Printf("invite service: resolve %s: %v", token, err)
	}
	if !ok || err != nil {
		if s.remote == nil {
			return nil, ErrInvalidInvitation
		}
		remote, rerr := s.remote.GetInvitation(token)
		if rerr != nil || remote == nil {
			return nil, ErrInvalidInvitation
		}
		inv = *remote
	}
	if !inv.ExpiresAt.IsZero() && s.now().After(inv.ExpiresAt) {
		return nil, ErrInvalidInvitation
	}
	return &inv, nil
}

// InvitationLink is the parsed query-parameter payload of an invitation
// URL. All five mandatory fields must be present and well formed.
type InvitationLink struct {
	Token        string
	InviterName  string
	TestID       string
	TestResultID string
	Email        string
	Language     string
	Category     string
}

// ParseInvitationLink validates the parameters carried by a visiting
// session's URL. Absence of any mandatory field is a terminal link error.
func ParseInvitationLink(query url.Values) (*InvitationLink, error) {
	link := &InvitationLink{
		Token:        strings.TrimSpace(query.Get("token")),
		InviterName:  strings.TrimSpace(query.Get("name")),
		TestID:       strings.TrimSpace(query.Get("testId")),
		TestResultID: strings.TrimSpace(query.Get("testResultId")),
		Email:        strings.TrimSpace(query.Get("email")),
		Language:     strings.TrimSpace(query.Get("lang")),
		Category:     strings.TrimSpace(query.Get("category")),
	}
	if link.Token == "" || link.InviterName == "" || link.TestID == "" ||
		link.TestResultID == "" || link.Email == "" || link.Language == "" {
		return nil, ErrInvalidInvitation
	}
	if _, err := mail.ParseAddress(link.Email); err != nil {
		return nil, ErrInvalidInvitation
	}
	return link, nil
}

package review

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"loan-review-workers/internal/models"
)

// UnknownLeader is the leader name used when a proposal has no members to derive one from.
const UnknownLeader = "Unknown"

// Envelope holds the outer fields of a wrapped submission. They are kept for
// diagnostics only and never reach validation or storage.
type Envelope struct {
	Wrapped    bool
	ProposalID string
	Fields     map[string]interface{}
}

// LogFields renders the envelope for structured logs.
func (e Envelope) LogFields() map[string]interface{} {
	if !e.Wrapped {
		return map[string]interface{}{"envelope": false}
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]interface{}{
		"envelope":           true,
		"envelopeProposalId": e.ProposalID,
		"envelopeKeys":       keys,
	}
}

// ResolveEnvelope picks the candidate payload out of a raw body. A nested
// object under "payload" wins; otherwise the body itself is the candidate.
func ResolveEnvelope(raw map[string]interface{}) (map[string]interface{}, Envelope) {
	inner, ok := raw["payload"].(map[string]interface{})
	if !ok {
		return raw, Envelope{}
	}

	env := Envelope{Wrapped: true, Fields: make(map[string]interface{}, len(raw)-1)}
	for k, v := range raw {
		if k == "payload" {
			continue
		}
		env.Fields[k] = v
	}
	if id, ok := raw["proposalId"].(string); ok {
		env.ProposalID = id
	}
	return inner, env
}

// NormalizeMember builds the canonical member at position index. It does not
// fail; incomplete members are rejected by validation before this runs.
func NormalizeMember(m models.MemberInput, index int) models.NormalizedMember {
	return models.NormalizedMember{
		ID:              positionalID(m.ID, index),
		Name:            memberName(m),
		LoanAmount:      memberAmount(m),
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		RequestedAmount: m.RequestedAmount,
		Phone:           m.Phone,
		IDNumber:        m.IDNumber,
		EvidencePhotos:  m.EvidencePhotos,
		Signature:       m.Signature,
		IsLeader:        m.IsLeader,
	}
}

func positionalID(id *string, index int) string {
	if id != nil && *id != "" {
		return *id
	}
	return "M" + strconv.Itoa(index+1)
}

func memberName(m models.MemberInput) string {
	if nonEmpty(m.Name) {
		return *m.Name
	}
	return strings.TrimSpace(deref(m.FirstName) + " " + deref(m.LastName))
}

func memberAmount(m models.MemberInput) float64 {
	switch {
	case m.LoanAmount != nil:
		return *m.LoanAmount
	case m.RequestedAmount != nil:
		return *m.RequestedAmount
	default:
		return 0
	}
}

// NormalizeProposal fills the derived fields of a validated proposal.
//
// Leader precedence: explicit leaderName, then the first member flagged
// isLeader, then the first member, then UnknownLeader. The total is the
// explicit totalAmount or the exact decimal sum of member loan amounts.
func NormalizeProposal(in models.ProposalInput) models.NormalizedProposal {
	members := make([]models.NormalizedMember, len(in.Members))
	for i, m := range in.Members {
		members[i] = NormalizeMember(m, i)
	}

	groupName := "Group " + in.GroupID
	if nonEmpty(in.GroupName) {
		groupName = *in.GroupName
	}

	return models.NormalizedProposal{
		GroupID:        in.GroupID,
		GroupName:      groupName,
		LeaderName:     leaderName(in.LeaderName, members),
		LeaderPhone:    in.LeaderPhone,
		Members:        members,
		TotalAmount:    totalAmount(in.TotalAmount, members),
		ContractText:   in.ContractText,
		EvidencePhotos: in.EvidencePhotos,
		FormData:       in.FormData,
	}
}

func leaderName(explicit *string, members []models.NormalizedMember) string {
	if nonEmpty(explicit) {
		return *explicit
	}
	for _, m := range members {
		if m.IsLeader != nil && *m.IsLeader {
			return m.Name
		}
	}
	if len(members) > 0 {
		return members[0].Name
	}
	return UnknownLeader
}

func totalAmount(explicit *float64, members []models.NormalizedMember) float64 {
	if explicit != nil {
		return *explicit
	}
	sum := decimal.Zero
	for _, m := range members {
		sum = sum.Add(decimal.NewFromFloat(m.LoanAmount))
	}
	total, _ := sum.Float64()
	return total
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

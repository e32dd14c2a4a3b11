// internal/models/proposal.go
package models

import "time"

// Stage is the review stage a proposal currently sits in.
type Stage string

const (
	StageDocReview        Stage = "DOC_REVIEW"
	StageRiskReview       Stage = "RISK_REVIEW"
	StageApproved         Stage = "APPROVED"
	StageRejected         Stage = "REJECTED"
	StageChangesRequested Stage = "CHANGES_REQUESTED"
)

// Stages lists every stage in workflow order.
var Stages = []Stage{
	StageDocReview,
	StageRiskReview,
	StageApproved,
	StageRejected,
	StageChangesRequested,
}

// IsTerminal reports whether no further decisions are accepted at s.
func (s Stage) IsTerminal() bool {
	return s == StageApproved || s == StageRejected
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

func (s Stage) String() string {
	return string(s)
}

// StageNames returns the stage values as plain strings, e.g. for schema enums.
func StageNames() []string {
	names := make([]string, 0, len(Stages))
	for _, s := range Stages {
		names = append(names, string(s))
	}
	return names
}

// MemberInput is a group member as submitted by intake. Name and amount may
// arrive in either of two shapes, so every field is optional here.
type MemberInput struct {
	ID              *string  `json:"id,omitempty" mapstructure:"id"`
	Name            *string  `json:"name,omitempty" mapstructure:"name"`
	FirstName       *string  `json:"firstName,omitempty" mapstructure:"firstName"`
	LastName        *string  `json:"lastName,omitempty" mapstructure:"lastName"`
	LoanAmount      *float64 `json:"loanAmount,omitempty" mapstructure:"loanAmount"`
	RequestedAmount *float64 `json:"requestedAmount,omitempty" mapstructure:"requestedAmount"`
	Phone           *string  `json:"phone,omitempty" mapstructure:"phone"`
	IDNumber        *string  `json:"idNumber,omitempty" mapstructure:"idNumber"`
	EvidencePhotos  []string `json:"evidencePhotos,omitempty" mapstructure:"evidencePhotos"`
	Signature       *string  `json:"signature,omitempty" mapstructure:"signature"`
	IsLeader        *bool    `json:"isLeader,omitempty" mapstructure:"isLeader"`
}

// NormalizedMember is the canonical member record: id, name and loan amount
// are always populated.
type NormalizedMember struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	LoanAmount      float64  `json:"loanAmount"`
	FirstName       *string  `json:"firstName,omitempty"`
	LastName        *string  `json:"lastName,omitempty"`
	RequestedAmount *float64 `json:"requestedAmount,omitempty"`
	Phone           *string  `json:"phone,omitempty"`
	IDNumber        *string  `json:"idNumber,omitempty"`
	EvidencePhotos  []string `json:"evidencePhotos,omitempty"`
	Signature       *string  `json:"signature,omitempty"`
	IsLeader        *bool    `json:"isLeader,omitempty"`
}

// ProposalInput is the canonical payload after envelope resolution and before
// derived fields are filled in.
type ProposalInput struct {
	GroupID        string                 `json:"groupId" mapstructure:"groupId"`
	GroupName      *string                `json:"groupName,omitempty" mapstructure:"groupName"`
	LeaderName     *string                `json:"leaderName,omitempty" mapstructure:"leaderName"`
	LeaderPhone    *string                `json:"leaderPhone,omitempty" mapstructure:"leaderPhone"`
	Members        []MemberInput          `json:"members" mapstructure:"members"`
	TotalAmount    *float64               `json:"totalAmount,omitempty" mapstructure:"totalAmount"`
	ContractText   *string                `json:"contractText,omitempty" mapstructure:"contractText"`
	EvidencePhotos []string               `json:"evidencePhotos,omitempty" mapstructure:"evidencePhotos"`
	FormData       map[string]interface{} `json:"formData,omitempty" mapstructure:"formData"`
}

// NormalizedProposal is the payload every downstream component operates on.
// FormData is opaque and never interpreted.
type NormalizedProposal struct {
	GroupID        string                 `json:"groupId"`
	GroupName      string                 `json:"groupName"`
	LeaderName     string                 `json:"leaderName"`
	LeaderPhone    *string                `json:"leaderPhone,omitempty"`
	Members        []NormalizedMember     `json:"members"`
	TotalAmount    float64                `json:"totalAmount"`
	ContractText   *string                `json:"contractText,omitempty"`
	EvidencePhotos []string               `json:"evidencePhotos,omitempty"`
	FormData       map[string]interface{} `json:"formData,omitempty"`
}

// Proposal is a submitted group loan under review. Payload never changes after
// creation; Stage only moves through recorded decisions.
type Proposal struct {
	ID          string             `json:"id"`
	Stage       Stage              `json:"stage"`
	SubmittedAt time.Time          `json:"submittedAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	Payload     NormalizedProposal `json:"payload"`
}

// Summary projects the listing view of p.
func (p *Proposal) Summary() ProposalSummary {
	return ProposalSummary{
		ID:          p.ID,
		GroupID:     p.Payload.GroupID,
		GroupName:   p.Payload.GroupName,
		LeaderName:  p.Payload.LeaderName,
		TotalAmount: p.Payload.TotalAmount,
		MemberCount: len(p.Payload.Members),
		Stage:       p.Stage,
		SubmittedAt: p.SubmittedAt,
	}
}

type ProposalSummary struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	GroupName   string    `json:"groupName"`
	LeaderName  string    `json:"leaderName"`
	TotalAmount float64   `json:"totalAmount"`
	MemberCount int       `json:"memberCount"`
	Stage       Stage     `json:"stage"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ProposalDetail is a proposal with its full decision history, oldest first.
type ProposalDetail struct {
	Proposal
	Decisions []Decision `json:"decisions"`
}

// AsInput turns a normalized payload back into an input with every derived
// field set explicitly. Normalizing the result yields p again.
func (p NormalizedProposal) AsInput() ProposalInput {
	groupName := p.GroupName
	leaderName := p.LeaderName
	total := p.TotalAmount

	members := make([]MemberInput, len(p.Members))
	for i, m := range p.Members {
		members[i] = m.AsInput()
	}
	return ProposalInput{
		GroupID:        p.GroupID,
		GroupName:      &groupName,
		LeaderName:     &leaderName,
		LeaderPhone:    p.LeaderPhone,
		Members:        members,
		TotalAmount:    &total,
		ContractText:   p.ContractText,
		EvidencePhotos: p.EvidencePhotos,
		FormData:       p.FormData,
	}
}

func (m NormalizedMember) AsInput() MemberInput {
	id := m.ID
	name := m.Name
	amount := m.LoanAmount
	return MemberInput{
		ID:              &id,
		Name:            &name,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		LoanAmount:      &amount,
		RequestedAmount: m.RequestedAmount,
		Phone:           m.Phone,
		IDNumber:        m.IDNumber,
		EvidencePhotos:  m.EvidencePhotos,
		Signature:       m.Signature,
		IsLeader:        m.IsLeader,
	}
}

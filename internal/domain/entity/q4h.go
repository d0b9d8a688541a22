package entity

import "time"

// Q4HKind classifies why a human question was raised.
type Q4HKind string

const (
	Q4HKeepGoingBudgetExhausted Q4HKind = "keep_going_budget_exhausted"
	Q4HGeneral                  Q4HKind = "general"
)

// CallSiteRef pins a Q4H to the generation/message position that raised it.
type CallSiteRef struct {
	Course       int
	MessageIndex int
}

// HumanQuestion is the §3 "Human Question (Q4H)": a question persisted to
// halt the drive until the operator answers via the `answer` CLI command.
type HumanQuestion struct {
	ID             string
	TellaskContent string
	AskedAt        time.Time
	CallSiteRef    CallSiteRef
	Kind           Q4HKind
	AnsweredAt     *time.Time
	Answer         string
}

// Answered reports whether the question has received an operator answer.
func (q HumanQuestion) Answered() bool { return q.AnsweredAt != nil }

package model

import "time"

// RunStatus is the lifecycle state of a budget run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
)

// StopReason records why a budget run stopped processing contacts.
type StopReason string

const (
	StopBudget      StopReason = "budget"
	StopExhausted   StopReason = "exhausted"
	StopInterrupted StopReason = "interrupted"
)

// ExtractionResult is the structured output of one model call.
type ExtractionResult struct {
	Company    *string  `json:"company" jsonschema:"description=Employer of the contact or null if unknown"`
	Role       *string  `json:"role" jsonschema:"description=Job title of the contact or null if unknown"`
	Topics     []string `json:"topics" jsonschema:"description=One to three short discussion topics,maxItems=3"`
	Confidence float64  `json:"confidence" jsonschema:"description=Confidence from 0 to 1,minimum=0,maximum=1"`
}

// Empty reports whether the result carries no usable signal.
func (r ExtractionResult) Empty() bool {
	return r.Company == nil && r.Role == nil && len(r.Topics) == 0
}

// ExtractionRecord is the cached per-contact extraction.
type ExtractionRecord struct {
	Email            string    `json:"email"`
	Company          *string   `json:"company"`
	Role             *string   `json:"role"`
	Topics           []string  `json:"topics"`
	Confidence       float64   `json:"confidence"`
	SourceMessageIDs []string  `json:"source_message_ids"`
	Model            string    `json:"model"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	RunID            string    `json:"run_id,omitempty"`
	ExtractedAt      time.Time `json:"extracted_at"`
}

// Usage is token consumption and cost for one model call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Tokens returns input plus output tokens.
func (u Usage) Tokens() int { return u.InputTokens + u.OutputTokens }

// BudgetRun tracks one budgeted extraction run.
type BudgetRun struct {
	ID          string     `json:"id"`
	BudgetUSD   float64    `json:"budget_usd"`
	Resume      bool       `json:"resume"`
	Status      RunStatus  `json:"status"`
	StopReason  StopReason `json:"stop_reason,omitempty"`
	Processed   int        `json:"processed"`
	Skipped     int        `json:"skipped"`
	TotalTokens int        `json:"total_tokens"`
	TotalCost   float64    `json:"total_cost"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Remaining returns the unspent part of the budget, floored at zero.
func (r *BudgetRun) Remaining() float64 {
	if r.TotalCost >= r.BudgetUSD {
		return 0
	}
	return r.BudgetUSD - r.TotalCost
}

package store

import "time"

// PlanStatus enumerates the lifecycle states of a Plan (spec §3).
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "ACTIVE"
	PlanStatusPaused    PlanStatus = "PAUSED"
	PlanStatusCompleted PlanStatus = "COMPLETED"
	PlanStatusCancelled PlanStatus = "CANCELLED"
)

// ExecutionStatus enumerates the terminal/in-flight states of an Execution
// audit row (spec §3).
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
	ExecutionStatusPending ExecutionStatus = "PENDING"
)

// Plan is the durable record of a standing DCA instruction (spec §3, §6).
// It is written externally by the CRUD surface and by successful/failed
// pipeline runs; the core never deletes a Plan.
type Plan struct {
	ID              string     `gorm:"primaryKey;type:varchar(64)"`
	UserAddress     string     `gorm:"type:varchar(42);index;not null"`
	FromToken       string     `gorm:"type:varchar(32);not null"`
	ToToken         string     `gorm:"type:varchar(32);not null"`
	Amount          string     `gorm:"type:varchar(78);not null"`
	IntervalMinutes int        `gorm:"not null"`
	DurationWeeks   int        `gorm:"not null"`
	SlippagePercent string     `gorm:"type:varchar(16);not null"`
	Status          PlanStatus `gorm:"type:varchar(16);index;not null"`
	ExecutionCount  int        `gorm:"not null;default:0"`
	TotalExecutions int        `gorm:"not null"`
	NextExecutionAt *time.Time `gorm:"index"`
	// LeasedUntil/LeasedBy implement the row-level lease the spec's §9 open
	// question on multi-scheduler safety asks for: a scheduler only selects
	// a plan whose lease has expired, and claims it for LeaseDuration.
	LeasedUntil *time.Time `gorm:"index"`
	LeasedBy    string     `gorm:"type:varchar(64)"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

// TableName implements gorm's naming hook.
func (Plan) TableName() string { return "plans" }

// IsTerminal reports whether the scheduler must never execute this plan.
func (p Plan) IsTerminal() bool {
	return p.Status == PlanStatusPaused || p.Status == PlanStatusCancelled || p.Status == PlanStatusCompleted
}

// Execution is an append-only audit row for one DCA iteration attempt
// (spec §3).
type Execution struct {
	ID            string          `gorm:"primaryKey;type:varchar(64)"`
	PlanID        *string         `gorm:"type:varchar(64);index"`
	ExecutedAt    time.Time       `gorm:"not null;index"`
	FromAmount    string          `gorm:"type:varchar(78);not null"`
	ToAmount      string          `gorm:"type:varchar(78);not null"`
	ExchangeRate  string          `gorm:"type:varchar(78);not null"`
	GasFee        *string         `gorm:"type:varchar(78)"`
	TxHash        *string         `gorm:"type:varchar(66);index"`
	Status        ExecutionStatus `gorm:"type:varchar(16);not null"`
	ErrorMessage  *string         `gorm:"type:text"`
	VaultAddress  *string         `gorm:"type:varchar(42)"`
	ShareTokens   *string         `gorm:"type:varchar(78)"`
	DepositTxHash *string         `gorm:"type:varchar(66)"`
}

// TableName implements gorm's naming hook.
func (Execution) TableName() string { return "executions" }

// VaultHolding tracks a user's share balance in a configured vault
// (spec §3). Keyed by (userAddress, vaultAddress).
type VaultHolding struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	UserAddress  string    `gorm:"type:varchar(42);uniqueIndex:idx_user_vault;not null"`
	VaultAddress string    `gorm:"type:varchar(42);uniqueIndex:idx_user_vault;not null"`
	TokenSymbol  string    `gorm:"type:varchar(32);not null"`
	ShareTokens  string    `gorm:"type:varchar(78);not null;default:'0'"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName implements gorm's naming hook.
func (VaultHolding) TableName() string { return "user_vault_holdings" }

// Package store is the Plan Store (spec §3, §6): the durable home of
// Plans, Executions, and VaultHoldings. It is the single source of truth
// the Scheduler reads from and every other component writes to.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/decimal"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements the Plan Store using GORM and MySQL, following the
// teacher's internal/db recorder shape (gorm.Open, AutoMigrate, wrapped
// errors).
type Store struct {
	db *gorm.DB
}

// New opens a MySQL-backed Store and auto-migrates the plan schema.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing *gorm.DB, auto-migrating the plan schema.
// Used directly by tests against a sqlmock-backed gorm.DB.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Plan{}, &Execution{}, &VaultHolding{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

// LeaseDuePlans selects ACTIVE plans whose nextExecutionAt has arrived and
// whose lease (if any) has expired, orders them by nextExecutionAt
// ascending, and claims up to limit of them for leaseDuration under
// leaseHolder — addressing the spec's §9 open question on multi-scheduler
// safety with a row-level lease instead of an unprotected read-then-write.
func (s *Store) LeaseDuePlans(ctx context.Context, now time.Time, leaseHolder string, leaseDuration time.Duration, limit int) ([]Plan, error) {
	var claimed []Plan

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []Plan
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", PlanStatusActive).
			Where("next_execution_at IS NOT NULL AND next_execution_at <= ?", now).
			Where("leased_until IS NULL OR leased_until <= ?", now).
			Order("next_execution_at ASC").
			Limit(limit)

		if err := q.Find(&due).Error; err != nil {
			return fmt.Errorf("failed to select due plans: %w", err)
		}
		if len(due) == 0 {
			return nil
		}

		until := now.Add(leaseDuration)
		ids := make([]string, 0, len(due))
		for i := range due {
			due[i].LeasedUntil = &until
			due[i].LeasedBy = leaseHolder
			ids = append(ids, due[i].ID)
		}

		if err := tx.Model(&Plan{}).Where("id IN ?", ids).
			Updates(map[string]any{"leased_until": until, "leased_by": leaseHolder}).Error; err != nil {
			return fmt.Errorf("failed to lease plans: %w", err)
		}

		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// GetPlan re-reads a single plan row by id, used to re-check status right
// before invoking the pipeline (spec §4.1 step 3).
func (s *Store) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", id, err)
	}
	return &p, nil
}

// RecordSuccess writes a SUCCESS Execution row and advances the Plan in a
// single transaction (spec §4.2 step 7, §8 invariants).
func (s *Store) RecordSuccess(ctx context.Context, exec Execution, now time.Time) error {
	if exec.Status != ExecutionStatusSuccess {
		return fmt.Errorf("RecordSuccess called with status %s", exec.Status)
	}
	if exec.TxHash == nil || exec.GasFee == nil {
		return fmt.Errorf("RecordSuccess requires txHash and gasFee")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&exec).Error; err != nil {
			return fmt.Errorf("failed to record execution: %w", err)
		}

		if exec.PlanID == nil {
			return nil
		}

		var plan Plan
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&plan, "id = ?", *exec.PlanID).Error; err != nil {
			return fmt.Errorf("failed to load plan for advance: %w", err)
		}

		plan.ExecutionCount++
		updates := map[string]any{
			"execution_count": plan.ExecutionCount,
			"leased_until":    nil,
			"leased_by":       "",
		}
		if plan.ExecutionCount >= plan.TotalExecutions {
			updates["status"] = PlanStatusCompleted
			updates["next_execution_at"] = nil
		} else {
			next := now.Add(time.Duration(plan.IntervalMinutes) * time.Minute)
			updates["next_execution_at"] = next
		}

		if err := tx.Model(&Plan{}).Where("id = ?", plan.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to advance plan: %w", err)
		}
		return nil
	})
}

// RecordFailure writes a FAILED Execution row (nil txHash, non-nil error
// message) and releases the plan's lease without advancing it
// (spec §4.2 "On any failure").
func (s *Store) RecordFailure(ctx context.Context, exec Execution) error {
	if exec.Status != ExecutionStatusFailed {
		return fmt.Errorf("RecordFailure called with status %s", exec.Status)
	}
	if exec.ErrorMessage == nil {
		return fmt.Errorf("RecordFailure requires an error message")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&exec).Error; err != nil {
			return fmt.Errorf("failed to record execution: %w", err)
		}
		if exec.PlanID == nil {
			return nil
		}
		if err := tx.Model(&Plan{}).Where("id = ?", *exec.PlanID).
			Updates(map[string]any{"leased_until": nil, "leased_by": ""}).Error; err != nil {
			return fmt.Errorf("failed to release plan lease: %w", err)
		}
		return nil
	})
}

// ReleaseLease clears a plan's lease without writing an execution row,
// used when the scheduler skips a plan after the re-check (spec §4.1 step
// 3, scenario 3 "Paused skip").
func (s *Store) ReleaseLease(ctx context.Context, planID string) error {
	return s.db.WithContext(ctx).Model(&Plan{}).Where("id = ?", planID).
		Updates(map[string]any{"leased_until": nil, "leased_by": ""}).Error
}

// LatestExecution returns the most recent Execution for a plan, or nil if
// none exists yet. The scheduler's due-plan selection (LeaseDuePlans) does
// not call it, so the plans a tick selects carry no latest Execution.
func (s *Store) LatestExecution(ctx context.Context, planID string) (*Execution, error) {
	var exec Execution
	err := s.db.WithContext(ctx).Where("plan_id = ?", planID).Order("executed_at DESC").First(&exec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest execution for %s: %w", planID, err)
	}
	return &exec, nil
}

// ActivePlanCount returns the number of ACTIVE plans, used for the
// metrics snapshot's activePlansCount (spec §6).
func (s *Store) ActivePlanCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Plan{}).Where("status = ?", PlanStatusActive).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active plans: %w", err)
	}
	return count, nil
}

// UpsertVaultHolding adds deltaSharesHuman (a human-readable decimal string
// at the vault's own decimals) to the user's holding in vaultAddress,
// creating the row if it doesn't exist. Uses exact big-integer addition,
// never float arithmetic (spec §3 VaultHolding invariants, §8 additivity).
func (s *Store) UpsertVaultHolding(ctx context.Context, userAddress, vaultAddress, tokenSymbol, deltaSharesHuman string, decimals int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holding VaultHolding
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_address = ? AND vault_address = ?", userAddress, vaultAddress).
			First(&holding).Error

		switch {
		case err == gorm.ErrRecordNotFound:
			holding = VaultHolding{
				UserAddress:  userAddress,
				VaultAddress: vaultAddress,
				TokenSymbol:  tokenSymbol,
				ShareTokens:  "0",
			}
		case err != nil:
			return fmt.Errorf("failed to load vault holding: %w", err)
		}

		sum, addErr := decimal.AddUnits(holding.ShareTokens, deltaSharesHuman, decimals)
		if addErr != nil {
			return fmt.Errorf("failed to add vault shares: %w", addErr)
		}
		holding.ShareTokens = sum
		holding.TokenSymbol = tokenSymbol

		if err := tx.Save(&holding).Error; err != nil {
			return fmt.Errorf("failed to save vault holding: %w", err)
		}
		return nil
	})
}

// VaultHoldingFor returns the holding for (user, vault), or a zero-value
// holding with ShareTokens "0" if none exists.
func (s *Store) VaultHoldingFor(ctx context.Context, userAddress, vaultAddress string) (*VaultHolding, error) {
	var holding VaultHolding
	err := s.db.WithContext(ctx).Where("user_address = ? AND vault_address = ?", userAddress, vaultAddress).First(&holding).Error
	if err == gorm.ErrRecordNotFound {
		return &VaultHolding{UserAddress: userAddress, VaultAddress: vaultAddress, ShareTokens: "0"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vault holding: %w", err)
	}
	return &holding, nil
}

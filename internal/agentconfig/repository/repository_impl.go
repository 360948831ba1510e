package repository

import (
	"context"
	"errors"
	"time"

	agentdomain "github.com/andora/tokenledger/internal/agentconfig/domain"
	"github.com/andora/tokenledger/internal/clock"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

// Provide returns the gorm-backed agent configuration repository.
func Provide(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) agentdomain.Repository {
	return &repository{db: db, genID: genID, clock: clk}
}

func (r *repository) FindConfig(ctx context.Context, agentName string) (*agentdomain.AgentConfiguration, error) {
	var cfg agentdomain.AgentConfiguration
	err := r.db.WithContext(ctx).First(&cfg, "agent_name = ?", agentName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *repository) ListConfigs(ctx context.Context) ([]agentdomain.AgentConfiguration, error) {
	var configs []agentdomain.AgentConfiguration
	err := r.db.WithContext(ctx).Order("agent_name ASC").Find(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *repository) UpdateConfig(ctx context.Context, agentName string, updates map[string]any) (*agentdomain.AgentConfiguration, error) {
	var updated *agentdomain.AgentConfiguration
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg agentdomain.AgentConfiguration
		if err := tx.First(&cfg, "agent_name = ?", agentName).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		updates["updated_at"] = r.clock.Now()
		if err := tx.Model(&cfg).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&cfg, "agent_name = ?", agentName).Error; err != nil {
			return err
		}
		updated = &cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repository) ListPrompts(ctx context.Context, agentName string) ([]agentdomain.AgentPrompt, error) {
	var prompts []agentdomain.AgentPrompt
	err := r.db.WithContext(ctx).
		Where("agent_name = ?", agentName).
		Order("prompt_key ASC, version DESC").
		Find(&prompts).Error
	if err != nil {
		return nil, err
	}
	return prompts, nil
}

func (r *repository) FindActivePrompt(ctx context.Context, agentName, promptKey string) (*agentdomain.AgentPrompt, error) {
	var prompt agentdomain.AgentPrompt
	err := r.db.WithContext(ctx).
		Where("agent_name = ? AND prompt_key = ? AND is_active = ?", agentName, promptKey, true).
		Order("version DESC").
		First(&prompt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &prompt, nil
}

// InsertPromptVersion allocates max+1 for the key and moves the active flag
// to the new row, all in one transaction.
func (r *repository) InsertPromptVersion(ctx context.Context, prompt *agentdomain.AgentPrompt) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		err := tx.Model(&agentdomain.AgentPrompt{}).
			Where("agent_name = ? AND prompt_key = ?", prompt.AgentName, prompt.PromptKey).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error
		if err != nil {
			return err
		}

		err = tx.Model(&agentdomain.AgentPrompt{}).
			Where("agent_name = ? AND prompt_key = ? AND is_active = ?", prompt.AgentName, prompt.PromptKey, true).
			Updates(map[string]any{"is_active": false, "updated_at": r.clock.Now()}).Error
		if err != nil {
			return err
		}

		prompt.ID = r.genID.Generate()
		prompt.Version = maxVersion + 1
		prompt.IsActive = true
		if err := tx.Create(prompt).Error; err != nil {
			return err
		}
		version = prompt.Version
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// UpsertActivePrompt overwrites the currently active row in place, or
// inserts version 1 when the key has no rows yet.
func (r *repository) UpsertActivePrompt(ctx context.Context, prompt *agentdomain.AgentPrompt) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active agentdomain.AgentPrompt
		err := tx.Where("agent_name = ? AND prompt_key = ? AND is_active = ?", prompt.AgentName, prompt.PromptKey, true).
			Order("version DESC").
			First(&active).Error
		switch {
		case err == nil:
			update := map[string]any{
				"template":   prompt.Template,
				"notes":      prompt.Notes,
				"updated_at": r.clock.Now(),
			}
			if prompt.Variables != nil {
				update["variables"] = prompt.Variables
			}
			if err := tx.Model(&active).Updates(update).Error; err != nil {
				return err
			}
			version = active.Version
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			prompt.ID = r.genID.Generate()
			prompt.Version = 1
			prompt.IsActive = true
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "agent_name"}, {Name: "prompt_key"}, {Name: "version"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"template", "variables", "notes", "is_active", "updated_at",
				}),
			}).Create(prompt).Error
			if err != nil {
				return err
			}
			version = prompt.Version
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (r *repository) InsertPerformance(ctx context.Context, sample *agentdomain.AgentPerformance) error {
	if sample.ID == 0 {
		sample.ID = r.genID.Generate()
	}
	return r.db.WithContext(ctx).Create(sample).Error
}

func (r *repository) AggregatePerformance(ctx context.Context, agentName string, since time.Time) (agentdomain.PerformanceAnalytics, error) {
	analytics := agentdomain.PerformanceAnalytics{
		AgentName:      agentName,
		ModelBreakdown: map[string]agentdomain.ModelStats{},
	}

	var overall struct {
		TotalCalls  int64   `gorm:"column:total_calls"`
		SuccessRate float64 `gorm:"column:success_rate"`
		AvgExecTime float64 `gorm:"column:avg_exec_time"`
		AvgTokens   float64 `gorm:"column:avg_tokens"`
		TotalCost   float64 `gorm:"column:total_cost"`
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(1) AS total_calls,
		       COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0) AS success_rate,
		       COALESCE(AVG(execution_time_ms), 0) AS avg_exec_time,
		       COALESCE(AVG(tokens_used), 0) AS avg_tokens,
		       COALESCE(SUM(cost_estimate), 0) AS total_cost
		FROM agent_performances
		WHERE agent_name = ? AND created_at >= ?`, agentName, since).Scan(&overall).Error
	if err != nil {
		return analytics, err
	}
	analytics.TotalCalls = overall.TotalCalls
	analytics.SuccessRate = overall.SuccessRate
	analytics.AvgExecutionTime = overall.AvgExecTime
	analytics.AvgTokensUsed = overall.AvgTokens
	analytics.TotalCost = overall.TotalCost

	var rows []struct {
		Model       string  `gorm:"column:model"`
		Calls       int64   `gorm:"column:calls"`
		SuccessRate float64 `gorm:"column:success_rate"`
		AvgTokens   float64 `gorm:"column:avg_tokens"`
		TotalCost   float64 `gorm:"column:total_cost"`
	}
	err = r.db.WithContext(ctx).Raw(`
		SELECT model,
		       COUNT(1) AS calls,
		       COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0) AS success_rate,
		       COALESCE(AVG(tokens_used), 0) AS avg_tokens,
		       COALESCE(SUM(cost_estimate), 0) AS total_cost
		FROM agent_performances
		WHERE agent_name = ? AND created_at >= ?
		GROUP BY model`, agentName, since).Scan(&rows).Error
	if err != nil {
		return analytics, err
	}
	for _, row := range rows {
		analytics.ModelBreakdown[row.Model] = agentdomain.ModelStats{
			Calls:       row.Calls,
			SuccessRate: row.SuccessRate,
			AvgTokens:   row.AvgTokens,
			TotalCost:   row.TotalCost,
		}
	}
	return analytics, nil
}

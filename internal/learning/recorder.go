// Package learning records per-run model performance and aggregates it by
// (provider:modelId, taskType) so the planner can prefer models that have
// actually delivered.
package learning

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// MinRunsForBest is the default run threshold for GetBestModel.
const MinRunsForBest = 3

// Recorder manages the SQLite performance database.
type Recorder struct {
	db     *sql.DB
	dbPath string
	bus    *bus.Bus
}

// NewRecorder opens (creating if needed) the database at dbPath.
// Pass ":memory:" for tests. eventBus may be nil.
func NewRecorder(dbPath string, eventBus *bus.Bus) (*Recorder, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	r := &Recorder{db: db, dbPath: dbPath, bus: eventBus}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return r, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RecordRun appends an immutable performance record and refreshes the
// aggregate for its (provider:modelId, taskType) key. Emits
// learning-recorded, and recommendation-updated when the best model for
// the record's task type changes.
func (r *Recorder) RecordRun(ctx context.Context, record models.ModelPerformanceRecord) error {
	prevBest, _ := r.GetBestModel(record.TaskType, MinRunsForBest)

	const insert = `INSERT INTO performance_records
		(project, story_id, story_title, task_type, complexity, provider, model_id,
		 duration_minutes, input_tokens, output_tokens, total_tokens, cost_usd,
		 success, retry_count, ac_total, ac_passed, ac_pass_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, insert,
		record.Project,
		record.StoryID,
		record.StoryTitle,
		string(record.TaskType),
		string(record.Complexity),
		string(record.Provider),
		record.ModelID,
		record.DurationMinutes,
		record.InputTokens,
		record.OutputTokens,
		record.TotalTokens,
		record.CostUSD,
		record.Success,
		record.RetryCount,
		record.ACTotal,
		record.ACPassed,
		record.ACPassRate,
	)
	if err != nil {
		return fmt.Errorf("insert performance record: %w", err)
	}

	if err := r.refreshAggregate(ctx, record.Provider, record.ModelID, record.TaskType); err != nil {
		return err
	}

	if r.bus != nil {
		r.bus.Emit(bus.LearningRecorded{Record: record})

		newBest, _ := r.GetBestModel(record.TaskType, MinRunsForBest)
		if newBest != nil && (prevBest == nil ||
			prevBest.ModelID != newBest.ModelID || prevBest.Provider != newBest.Provider) {
			r.bus.Emit(bus.RecommendationUpdated{
				TaskType: record.TaskType,
				ModelID:  newBest.ModelID,
				Provider: newBest.Provider,
			})
		}
	}

	return nil
}

// refreshAggregate recomputes one key's aggregate from its records.
func (r *Recorder) refreshAggregate(ctx context.Context, provider models.Provider, modelID string, taskType models.TaskType) error {
	const query = `SELECT duration_minutes, total_tokens, cost_usd, success, retry_count, ac_pass_rate
		FROM performance_records
		WHERE provider = ? AND model_id = ? AND task_type = ?`

	rows, err := r.db.QueryContext(ctx, query, string(provider), modelID, string(taskType))
	if err != nil {
		return fmt.Errorf("query records for aggregate: %w", err)
	}
	defer rows.Close()

	var (
		totalRuns, successfulRuns                       int
		sumDuration, sumTokens, sumCost, sumPassRate    float64
		sumEfficiency, sumSpeed, sumReliability         float64
	)

	for rows.Next() {
		var (
			duration, cost, passRate float64
			totalTokens, retryCount  int
			success                  bool
		)
		if err := rows.Scan(&duration, &totalTokens, &cost, &success, &retryCount, &passRate); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}

		totalRuns++
		if success {
			successfulRuns++
		}
		sumDuration += duration
		sumTokens += float64(totalTokens)
		sumCost += cost
		sumPassRate += passRate
		sumEfficiency += EfficiencyScore(passRate, cost)
		sumSpeed += SpeedScore(duration)
		sumReliability += ReliabilityScore(passRate, success, retryCount)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	if totalRuns == 0 {
		return nil
	}

	n := float64(totalRuns)
	avgEfficiency := sumEfficiency / n
	avgSpeed := sumSpeed / n
	avgReliability := sumReliability / n

	const upsert = `INSERT INTO model_learning
		(provider, model_id, task_type, total_runs, successful_runs, success_rate,
		 avg_duration_minutes, avg_cost_usd, avg_tokens, avg_ac_pass_rate,
		 efficiency_score, speed_score, reliability_score, overall_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, model_id, task_type) DO UPDATE SET
		 total_runs = excluded.total_runs,
		 successful_runs = excluded.successful_runs,
		 success_rate = excluded.success_rate,
		 avg_duration_minutes = excluded.avg_duration_minutes,
		 avg_cost_usd = excluded.avg_cost_usd,
		 avg_tokens = excluded.avg_tokens,
		 avg_ac_pass_rate = excluded.avg_ac_pass_rate,
		 efficiency_score = excluded.efficiency_score,
		 speed_score = excluded.speed_score,
		 reliability_score = excluded.reliability_score,
		 overall_score = excluded.overall_score`

	_, err = r.db.ExecContext(ctx, upsert,
		string(provider), modelID, string(taskType),
		totalRuns, successfulRuns, float64(successfulRuns)/n,
		sumDuration/n, sumCost/n, sumTokens/n, sumPassRate/n,
		avgEfficiency, avgSpeed, avgReliability,
		OverallScore(avgReliability, avgEfficiency, avgSpeed),
	)
	if err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

// GetLearning returns the aggregate for one key, or nil when absent.
func (r *Recorder) GetLearning(provider models.Provider, modelID string, taskType models.TaskType) (*models.ModelLearning, error) {
	const query = `SELECT provider, model_id, task_type, total_runs, successful_runs,
		success_rate, avg_duration_minutes, avg_cost_usd, avg_tokens, avg_ac_pass_rate,
		efficiency_score, speed_score, reliability_score, overall_score
		FROM model_learning
		WHERE provider = ? AND model_id = ? AND task_type = ?`

	row := r.db.QueryRow(query, string(provider), modelID, string(taskType))
	agg, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query aggregate: %w", err)
	}
	return agg, nil
}

// GetBestModel returns the highest-scoring aggregate for a task type with
// at least minRuns runs, or nil when none qualifies.
func (r *Recorder) GetBestModel(taskType models.TaskType, minRuns int) (*models.ModelLearning, error) {
	const query = `SELECT provider, model_id, task_type, total_runs, successful_runs,
		success_rate, avg_duration_minutes, avg_cost_usd, avg_tokens, avg_ac_pass_rate,
		efficiency_score, speed_score, reliability_score, overall_score
		FROM model_learning
		WHERE task_type = ? AND total_runs >= ?
		ORDER BY overall_score DESC, provider ASC, model_id ASC
		LIMIT 1`

	row := r.db.QueryRow(query, string(taskType), minRuns)
	agg, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query best model: %w", err)
	}
	return agg, nil
}

// AllAggregates returns every aggregate, highest overall score first.
func (r *Recorder) AllAggregates() ([]models.ModelLearning, error) {
	const query = `SELECT provider, model_id, task_type, total_runs, successful_runs,
		success_rate, avg_duration_minutes, avg_cost_usd, avg_tokens, avg_ac_pass_rate,
		efficiency_score, speed_score, reliability_score, overall_score
		FROM model_learning
		ORDER BY overall_score DESC, provider ASC, model_id ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var out []models.ModelLearning
	for rows.Next() {
		agg, err := scanLearning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, *agg)
	}
	return out, rows.Err()
}

// Clear deletes all records and aggregates.
func (r *Recorder) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM performance_records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM model_learning`); err != nil {
		return fmt.Errorf("clear aggregates: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLearning(row rowScanner) (*models.ModelLearning, error) {
	var agg models.ModelLearning
	var provider, taskType string
	err := row.Scan(
		&provider, &agg.ModelID, &taskType,
		&agg.TotalRuns, &agg.SuccessfulRuns, &agg.SuccessRate,
		&agg.AvgDurationMinutes, &agg.AvgCostUSD, &agg.AvgTokens, &agg.AvgACPassRate,
		&agg.EfficiencyScore, &agg.SpeedScore, &agg.ReliabilityScore, &agg.OverallScore,
	)
	if err != nil {
		return nil, err
	}
	agg.Provider = models.Provider(provider)
	agg.TaskType = models.TaskType(taskType)
	return &agg, nil
}

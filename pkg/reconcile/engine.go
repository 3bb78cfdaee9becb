package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vaani-labs/voicemetrics/internal/models"
	"github.com/vaani-labs/voicemetrics/pkg/logger"
	"github.com/vaani-labs/voicemetrics/pkg/metrics"
	"github.com/vaani-labs/voicemetrics/pkg/store"
	"github.com/vaani-labs/voicemetrics/pkg/telemetry"
)

// MetricTypeUserLatency is the detail row type for correlator-derived samples,
// alongside the pipeline stage names.
const MetricTypeUserLatency = "user_latency"

// A full pass aborts early only when the durable store looks structurally
// down, i.e. this many candidates in a row fail with transient errors.
const structuralFailureLimit = 3

// Config tunes one engine instance.
type Config struct {
	Source       string        // recorded on synced calls: auto_sync or manual_sync
	MaxRetries   int           // per-candidate retry budget
	RetryBackoff time.Duration // base for exponential backoff between retries
	DBTimeout    time.Duration // per-candidate durable transaction deadline
}

// Engine migrates ephemeral call data into the durable store. Every write path
// is idempotent, so re-running a sync over already-synced candidates creates
// nothing and corrupts nothing.
type Engine struct {
	db      *gorm.DB
	store   store.EphemeralStore
	scanner *Scanner
	cfg     Config
	now     func() time.Time
}

func NewEngine(db *gorm.DB, st store.EphemeralStore, cfg Config) *Engine {
	if cfg.Source == "" {
		cfg.Source = "auto_sync"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = 5 * time.Second
	}
	return &Engine{
		db:      db,
		store:   st,
		scanner: NewScanner(st),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Result is the outcome for one candidate.
type Result struct {
	CallID         string   `json:"callId"`
	Success        bool     `json:"success"`
	Skipped        bool     `json:"skipped"`
	RecordsCreated int      `json:"recordsCreated"`
	Errors         []string `json:"errors,omitempty"`

	kind ErrorKind
}

// Report summarizes one full pass.
type Report struct {
	RunID          string        `json:"runId"`
	Total          int           `json:"total"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	RecordsCreated int           `json:"recordsCreated"`
	Duration       time.Duration `json:"duration"`
}

// SyncAll discovers every candidate and syncs them one by one. A failing
// candidate never blocks the rest; the pass aborts early only on a structural
// failure (the durable store rejecting several candidates in a row) or when
// ctx is cancelled, in which case the in-flight candidate finishes first.
func (e *Engine) SyncAll(ctx context.Context) (Report, error) {
	start := e.now()
	report := Report{RunID: uuid.NewString()}

	candidates, err := e.scanner.Candidates(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("aborted").Inc()
		return report, fmt.Errorf("listing sync candidates: %w", err)
	}

	logger.Info("sync pass started",
		zap.String("runId", report.RunID),
		zap.Int("candidates", len(candidates)))

	consecutiveTransient := 0
	var abortErr error
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			abortErr = err
			break
		}

		res := e.SyncOne(ctx, id)
		report.Total++
		report.RecordsCreated += res.RecordsCreated
		switch {
		case res.Skipped:
			report.Skipped++
			metrics.SyncCandidates.WithLabelValues("skipped").Inc()
		case res.Success:
			report.Successful++
			consecutiveTransient = 0
			metrics.SyncCandidates.WithLabelValues("success").Inc()
		default:
			report.Failed++
			metrics.SyncCandidates.WithLabelValues("failed").Inc()
			if res.kind == KindTransient {
				consecutiveTransient++
			} else {
				consecutiveTransient = 0
			}
			if consecutiveTransient >= structuralFailureLimit {
				abortErr = fmt.Errorf("%d consecutive transient failures, aborting pass", consecutiveTransient)
			}
		}
		if abortErr != nil {
			break
		}
	}

	report.Duration = e.now().Sub(start)
	metrics.SyncDuration.Observe(report.Duration.Seconds())
	metrics.SyncRecordsCreated.Add(float64(report.RecordsCreated))

	outcome := "ok"
	if abortErr != nil {
		outcome = "aborted"
	} else if report.Failed > 0 {
		outcome = "partial"
	}
	metrics.SyncRuns.WithLabelValues(outcome).Inc()

	logger.Info("sync pass finished",
		zap.String("runId", report.RunID),
		zap.String("outcome", outcome),
		zap.Int("total", report.Total),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("recordsCreated", report.RecordsCreated),
		zap.Duration("duration", report.Duration))
	return report, abortErr
}

// SyncOne migrates a single candidate. The ledger gets one row per attempt;
// a candidate whose last attempt failed is retried only once its backoff
// window has passed, and never once the retry budget is spent.
func (e *Engine) SyncOne(ctx context.Context, callID string) Result {
	return e.syncOne(ctx, callID, false)
}

// ForceSyncOne attempts a candidate immediately, ignoring the backoff window
// and a spent retry budget. For operator-triggered syncs only.
func (e *Engine) ForceSyncOne(ctx context.Context, callID string) Result {
	return e.syncOne(ctx, callID, true)
}

func (e *Engine) syncOne(ctx context.Context, callID string, force bool) Result {
	res := Result{CallID: callID}
	now := e.now()

	last, err := models.LatestSyncStatus(e.db, callID, models.SyncTypeCombined)
	if err != nil {
		res.kind = KindTransient
		res.Errors = append(res.Errors, fmt.Sprintf("reading sync ledger: %v", err))
		return res
	}
	if !force && last != nil && last.Status == models.SyncStatusFailed {
		if last.RetryExhausted() {
			logger.Warn("sync retry budget exhausted, skipping",
				zap.String("callId", callID),
				zap.Int("retries", last.RetryCount))
			res.Skipped = true
			return res
		}
		if last.NextRetryAt != nil && now.Before(*last.NextRetryAt) {
			res.Skipped = true
			return res
		}
	}

	sess, turns, warnings, err := e.fetch(ctx, callID)
	if err != nil {
		return e.fail(callID, last, res, err)
	}
	res.Errors = append(res.Errors, warnings...)
	if sess == nil && len(turns) == 0 {
		res.Success = true
		res.Skipped = true
		return res
	}

	existing, err := models.GetCallByCallID(e.db, callID)
	if err != nil {
		return e.fail(callID, last, res, Transient(err))
	}
	if e.upToDate(existing, sess, turns) {
		res.Success = true
		res.Skipped = true
		return res
	}

	status := e.openAttempt(callID, last, now)
	created, callRef, err := e.project(ctx, callID, sess, turns)
	if err != nil {
		status.MarkFailed(e.now(), err.Error(), e.cfg.RetryBackoff)
		if dbErr := e.db.Save(status).Error; dbErr != nil {
			logger.Error("failed to record sync failure",
				zap.String("callId", callID), zap.Error(dbErr))
		}
		res.kind = KindOf(err)
		res.Errors = append(res.Errors, err.Error())
		logger.Error("sync failed",
			zap.String("callId", callID),
			zap.String("kind", res.kind.String()),
			zap.Error(err))
		return res
	}

	status.CallRef = &callRef
	status.MarkCompleted(e.now(), created)
	if err := e.db.Save(status).Error; err != nil {
		logger.Error("failed to record sync completion",
			zap.String("callId", callID), zap.Error(err))
	}

	res.Success = true
	res.RecordsCreated = created
	logger.Info("synced call",
		zap.String("callId", callID),
		zap.Int("recordsCreated", created))
	return res
}

// fail records a failed attempt in the ledger when the failure happened before
// the projection transaction even started.
func (e *Engine) fail(callID string, last *models.SyncStatus, res Result, err error) Result {
	status := e.openAttempt(callID, last, e.now())
	status.MarkFailed(e.now(), err.Error(), e.cfg.RetryBackoff)
	if dbErr := e.db.Save(status).Error; dbErr != nil {
		logger.Error("failed to record sync failure",
			zap.String("callId", callID), zap.Error(dbErr))
	}
	res.kind = KindOf(err)
	res.Errors = append(res.Errors, err.Error())
	logger.Error("sync failed",
		zap.String("callId", callID),
		zap.String("kind", res.kind.String()),
		zap.Error(err))
	return res
}

// openAttempt creates the ledger row for this attempt, carrying the retry
// count forward from the previous failed attempt so the budget is per
// candidate, not per row.
func (e *Engine) openAttempt(callID string, last *models.SyncStatus, now time.Time) *models.SyncStatus {
	status := &models.SyncStatus{
		SyncType:   models.SyncTypeCombined,
		RoomID:     callID,
		Status:     models.SyncStatusPending,
		StartedAt:  now,
		MaxRetries: e.cfg.MaxRetries,
	}
	if last != nil && last.Status == models.SyncStatusFailed {
		status.RetryCount = last.RetryCount
	}
	if err := e.db.Create(status).Error; err != nil {
		logger.Error("failed to open sync attempt",
			zap.String("callId", callID), zap.Error(err))
	}
	status.MarkInProgress()
	if err := e.db.Save(status).Error; err != nil {
		logger.Error("failed to mark sync in progress",
			zap.String("callId", callID), zap.Error(err))
	}
	return status
}

// fetch reads the candidate's snapshot and transcript turns from the
// ephemeral store. A missing snapshot is fine (transcript-only candidate);
// an unparseable snapshot fails the candidate, an unparseable individual turn
// is skipped with a warning.
func (e *Engine) fetch(ctx context.Context, callID string) (*telemetry.CallSession, []telemetry.TranscriptTurn, []string, error) {
	var sess *telemetry.CallSession
	raw, err := e.store.Get(ctx, store.CallKey(callID))
	switch {
	case err == nil:
		sess, err = telemetry.UnmarshalSession(raw)
		if err != nil {
			return nil, nil, nil, Malformed(fmt.Errorf("decoding call snapshot: %w", err))
		}
	case errors.Is(err, store.ErrNotFound):
		// transcript-only candidate
	default:
		return nil, nil, nil, Transient(fmt.Errorf("reading call snapshot: %w", err))
	}

	roomIDs := []string{callID}
	if sess != nil && sess.RoomName != "" && sess.RoomName != callID {
		roomIDs = append(roomIDs, sess.RoomName)
	}

	var (
		turns    []telemetry.TranscriptTurn
		warnings []string
		seen     = make(map[int64]struct{})
	)
	for _, roomID := range roomIDs {
		items, err := e.store.RangeList(ctx, store.TranscriptKey(roomID))
		if err != nil {
			return nil, nil, nil, Transient(fmt.Errorf("reading transcript list %q: %w", roomID, err))
		}
		for i, item := range items {
			var turn telemetry.TranscriptTurn
			if err := json.Unmarshal(item, &turn); err != nil {
				warnings = append(warnings, fmt.Sprintf("skipping unparseable transcript turn %d in %q", i, roomID))
				continue
			}
			if _, dup := seen[turn.HistoryID]; dup {
				continue
			}
			seen[turn.HistoryID] = struct{}{}
			turns = append(turns, turn)
		}
	}
	return sess, turns, warnings, nil
}

// upToDate reports whether the durable projection already covers everything
// the ephemeral store holds, using the snapshot's last-write watermark and the
// stored transcript count. Detail inserts are idempotent anyway; this check
// just avoids pointless transactions.
func (e *Engine) upToDate(existing *models.Call, sess *telemetry.CallSession, turns []telemetry.TranscriptTurn) bool {
	if existing == nil || !existing.SyncedFromEphemeral || existing.LastSyncTime == nil {
		return false
	}
	if sess != nil && sess.LastWrite.After(*existing.LastSyncTime) {
		return false
	}
	if len(turns) > 0 {
		var stored int64
		if err := e.db.Model(&models.TranscriptSegment{}).
			Where("call_ref = ?", existing.ID).Count(&stored).Error; err != nil {
			return false
		}
		if int(stored) < len(turns) {
			return false
		}
	}
	return true
}

// project writes the candidate's durable rows in one transaction. Detail and
// transcript inserts rely on their unique indexes with do-nothing conflict
// handling, so replays create zero rows.
func (e *Engine) project(ctx context.Context, callID string, sess *telemetry.CallSession, turns []telemetry.TranscriptTurn) (int, uint, error) {
	dbCtx, cancel := context.WithTimeout(ctx, e.cfg.DBTimeout)
	defer cancel()

	var (
		created int
		callRef uint
	)
	err := e.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		call, err := e.findOrCreateCall(tx, callID, sess, &created)
		if err != nil {
			return err
		}
		callRef = call.ID

		if sess != nil {
			n, err := e.insertDetails(tx, call.ID, sess)
			if err != nil {
				return err
			}
			created += n
			if err := e.upsertAggregates(tx, call.ID, sess); err != nil {
				return err
			}
		}

		n, err := e.insertTranscripts(tx, call.ID, turns)
		if err != nil {
			return err
		}
		created += n

		now := e.now()
		call.SyncedFromEphemeral = true
		call.LastSyncTime = &now
		call.SyncSource = e.cfg.Source
		return tx.Save(call).Error
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, 0, Transient(err)
		}
		return 0, 0, classify(err)
	}
	return created, callRef, nil
}

// classify wraps raw gorm errors. Constraint and syntax problems will not fix
// themselves; everything else is assumed to be infrastructure.
func classify(err error) error {
	var se *SyncError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, gorm.ErrInvalidData) || errors.Is(err, gorm.ErrInvalidValue) {
		return Permanent(err)
	}
	return Transient(err)
}

func (e *Engine) findOrCreateCall(tx *gorm.DB, callID string, sess *telemetry.CallSession, created *int) (*models.Call, error) {
	var call models.Call
	err := tx.Where("call_id = ?", callID).First(&call).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		call = models.Call{CallID: callID, RoomName: callID, Status: string(telemetry.StatusCompleted)}
		applySession(&call, sess)
		if err := tx.Create(&call).Error; err != nil {
			return nil, err
		}
		*created++
	case err != nil:
		return nil, err
	default:
		applySession(&call, sess)
	}
	return &call, nil
}

// applySession refreshes the call row from the snapshot. Transcript-only
// candidates leave the row as found.
func applySession(call *models.Call, sess *telemetry.CallSession) {
	if sess == nil {
		return
	}
	call.RoomName = sess.RoomName
	call.AgentName = sess.AgentName
	call.PhoneNumber = sess.Participant.PhoneNumber
	call.CallerName = sess.Participant.CallerName
	call.Status = string(sess.Status)
	call.StartTime = sess.StartTime
	call.EndTime = sess.EndTime
	if sess.EndTime != nil {
		call.DurationSec = int64(sess.EndTime.Sub(sess.StartTime).Seconds())
	}
}

// insertDetails writes one row per stage event and latency sample, counting
// only rows the conflict guard let through.
func (e *Engine) insertDetails(tx *gorm.DB, callRef uint, sess *telemetry.CallSession) (int, error) {
	created := 0
	for stage, events := range sess.Events() {
		for _, ev := range events {
			details, _ := json.Marshal(ev)
			row := models.CallMetricsDetail{
				CallRef:        callRef,
				MetricType:     string(stage),
				SequenceNumber: ev.Sequence,
				EventTimestamp: ev.Timestamp,
				DurationMS:     ev.DurationMS(),
				Success:        true,
				EventDetails:   models.JSON(details),
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return created, res.Error
			}
			created += int(res.RowsAffected)
		}
	}
	for _, sample := range sess.UserLatencies {
		details, _ := json.Marshal(sample)
		row := models.CallMetricsDetail{
			CallRef:        callRef,
			MetricType:     MetricTypeUserLatency,
			SequenceNumber: sample.Sequence,
			EventTimestamp: sample.Timestamp,
			DurationMS:     sample.Latency * 1000,
			Success:        true,
			EventDetails:   models.JSON(details),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return created, res.Error
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

func (e *Engine) insertTranscripts(tx *gorm.DB, callRef uint, turns []telemetry.TranscriptTurn) (int, error) {
	created := 0
	for _, turn := range turns {
		row := models.TranscriptSegment{
			CallRef:   callRef,
			HistoryID: turn.HistoryID,
			Timestamp: turn.Time(),
			Speaker:   turn.Speaker,
			Message:   turn.Message,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return created, res.Error
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

// upsertAggregates recomputes the one-row-per-call aggregate from the
// snapshot. Replays overwrite with identical values.
func (e *Engine) upsertAggregates(tx *gorm.DB, callRef uint, sess *telemetry.CallSession) error {
	agg := buildAggregates(callRef, sess)

	var existing models.CallMetrics
	err := tx.Where("call_ref = ?", callRef).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&agg).Error
	case err != nil:
		return err
	default:
		agg.ID = existing.ID
		return tx.Save(&agg).Error
	}
}

func buildAggregates(callRef uint, sess *telemetry.CallSession) models.CallMetrics {
	ttft := sess.TTFTSamples()
	ttfb := sess.TTFBSamples()
	eou := sess.EOUSamples()
	latencies := sess.LatencySamples()

	agg := models.CallMetrics{
		CallRef: callRef,

		LLMCalls: sess.LLMCalls,
		AvgTTFT:  telemetry.Mean(ttft),
		MinTTFT:  telemetry.Min(ttft),
		MaxTTFT:  telemetry.Max(ttft),

		TTSCalls:   sess.TTSCalls,
		AvgTTSTTFB: telemetry.Mean(ttfb),

		ASRCalls: sess.ASRCalls,

		EOUEvents:   int64(len(eou)),
		AvgEOUDelay: telemetry.Mean(eou),
		MinEOUDelay: telemetry.Min(eou),
		MaxEOUDelay: telemetry.Max(eou),

		UserTurns:      int64(len(latencies)),
		AvgUserLatency: telemetry.Mean(latencies),
		MinUserLatency: telemetry.Min(latencies),
		MaxUserLatency: telemetry.Max(latencies),

		TotalInteractions: sess.LLMCalls + sess.TTSCalls,
	}
	for _, ev := range sess.LLMEvents {
		if ev.LLM != nil {
			agg.TotalTokensIn += int64(ev.LLM.TokensIn)
			agg.TotalTokensOut += int64(ev.LLM.TokensOut)
		}
	}
	for _, ev := range sess.TTSEvents {
		if ev.TTS != nil {
			agg.TotalAudioDuration += ev.TTS.Duration
			agg.TotalCharacters += int64(ev.TTS.Characters)
		}
	}
	for _, ev := range sess.ASREvents {
		if ev.ASR != nil {
			agg.TotalWordsProcessed += int64(ev.ASR.Words)
		}
	}
	return agg
}

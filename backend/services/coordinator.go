package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ids-dashboard/backend/models"
	"ids-dashboard/backend/poller"
	"ids-dashboard/backend/system"

	"go.uber.org/zap"
)

// Backend is the set of gateway calls the coordinator makes.
type Backend interface {
	FetchAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	FetchActiveBlocks(ctx context.Context, limit int) ([]models.BlockRecord, error)
	FetchBlockHistory(ctx context.Context, limit int) ([]models.BlockRecord, error)
	FetchConfig(ctx context.Context) (models.ConfigDoc, error)
	SaveConfig(ctx context.Context, update models.ConfigUpdate) (models.ConfigDoc, error)
	BlockIP(ctx context.Context, req models.BlockRequest) error
	UnblockIP(ctx context.Context, ip string) error
	FetchWhitelist(ctx context.Context, limit int) ([]models.WhitelistEntry, error)
	AddWhitelist(ctx context.Context, ip, note string) error
	RemoveWhitelist(ctx context.Context, ip string) error
	PreviewDetection(ctx context.Context, fv models.FeatureVector) (models.DetectPreview, error)
	FetchStatus(ctx context.Context) (models.SystemStatus, error)
	FetchTrainingStats(ctx context.Context) (models.TrainingStats, error)
}

// ErrInvalidInput matches every ValidationError via errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError rejects a request before any backend call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Largest alert page the dashboard will request.
const MaxAlertLimit = 5000

// Intervals and Limits mirror system.PollConfig in plain durations.
type Intervals struct {
	Alerts, ActiveBlocks, BlockHistory, Config, Whitelist, Status time.Duration
}

type Limits struct {
	Alerts, ActiveBlocks, BlockHistory, Whitelist int
}

type CoordinatorOptions struct {
	Intervals Intervals
	Limits    Limits
	Clock     poller.Clock
	Notifier  AlertNotifier
}

// Slot is the presentation view of one resource.
type Slot[T any] struct {
	Data      T          `json:"data"`
	Loaded    bool       `json:"loaded"`
	Error     string     `json:"error,omitempty"`
	Busy      bool       `json:"busy"`
	UpdatedAt *time.Time `json:"updated_at"`
	Source    string     `json:"source,omitempty"`
}

func SlotOf[T any](s poller.Snapshot[T]) Slot[T] {
	out := Slot[T]{Data: s.Data, Loaded: s.HasData, Busy: s.Busy, Source: string(s.Source)}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// Draft is the locally edited config awaiting submit.
type Draft struct {
	Config models.ConfigDoc `json:"config"`
	Ready  bool             `json:"ready"`
	Dirty  bool             `json:"dirty"`
}

// ViewState is the merged read state of every resource.
type ViewState struct {
	Alerts       Slot[[]models.Alert]          `json:"alerts"`
	ActiveBlocks Slot[[]models.BlockRecord]    `json:"active_blocks"`
	BlockHistory Slot[[]models.BlockRecord]    `json:"block_history"`
	Config       Slot[models.ConfigDoc]        `json:"config"`
	Whitelist    Slot[[]models.WhitelistEntry] `json:"whitelist"`
	Status       Slot[models.SystemStatus]     `json:"status"`
	Draft        Draft                         `json:"draft"`
	AlertLimit   int                           `json:"alert_limit"`
}

// Coordinator owns one poller per backend resource and applies mutations.
type Coordinator struct {
	backend  Backend
	limits   Limits
	notifier AlertNotifier

	alerts    *poller.Poller[[]models.Alert]
	active    *poller.Poller[[]models.BlockRecord]
	history   *poller.Poller[[]models.BlockRecord]
	config    *poller.Poller[models.ConfigDoc]
	whitelist *poller.Poller[[]models.WhitelistEntry]
	status    *poller.Poller[models.SystemStatus]

	alertLimit atomic.Int64

	draftMu sync.Mutex
	draft   Draft
	base    models.ConfigDoc

	seenMu     sync.Mutex
	seenAlerts map[string]struct{}
	seeded     bool

	historyOnce  sync.Once
	historyReady chan struct{}

	runMu  sync.Mutex
	runCtx context.Context
	notify sync.WaitGroup
}

func NewCoordinator(backend Backend, opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		backend:      backend,
		limits:       opts.Limits,
		notifier:     opts.Notifier,
		seenAlerts:   make(map[string]struct{}),
		historyReady: make(chan struct{}),
		runCtx:       context.Background(),
	}
	limit := opts.Limits.Alerts
	if limit <= 0 {
		limit = 200
	}
	c.alertLimit.Store(int64(limit))

	iv := opts.Intervals
	c.alerts = poller.New(c.fetchAlerts, poller.Options[[]models.Alert]{
		Name: "alerts", Interval: iv.Alerts, Clock: opts.Clock, OnCommit: c.onAlerts,
	})
	c.active = poller.New(c.fetchActive, poller.Options[[]models.BlockRecord]{
		Name: "active_blocks", Interval: iv.ActiveBlocks, Clock: opts.Clock,
	})
	c.history = poller.New(c.fetchHistory, poller.Options[[]models.BlockRecord]{
		Name: "block_history", Interval: iv.BlockHistory, Clock: opts.Clock,
		OnCommit: func([]models.BlockRecord) { c.historyOnce.Do(func() { close(c.historyReady) }) },
	})
	c.config = poller.New(backend.FetchConfig, poller.Options[models.ConfigDoc]{
		Name: "config", Interval: iv.Config, Clock: opts.Clock, OnCommit: c.onConfig,
	})
	c.whitelist = poller.New(c.fetchWhitelist, poller.Options[[]models.WhitelistEntry]{
		Name: "whitelist", Interval: iv.Whitelist, Clock: opts.Clock,
	})
	c.status = poller.New(backend.FetchStatus, poller.Options[models.SystemStatus]{
		Name: "status", Interval: iv.Status, Clock: opts.Clock,
	})
	return c
}

func (c *Coordinator) fetchAlerts(ctx context.Context) ([]models.Alert, error) {
	return c.backend.FetchAlerts(ctx, int(c.alertLimit.Load()))
}

func (c *Coordinator) fetchActive(ctx context.Context) ([]models.BlockRecord, error) {
	return c.backend.FetchActiveBlocks(ctx, c.limits.ActiveBlocks)
}

func (c *Coordinator) fetchHistory(ctx context.Context) ([]models.BlockRecord, error) {
	return c.backend.FetchBlockHistory(ctx, c.limits.BlockHistory)
}

func (c *Coordinator) fetchWhitelist(ctx context.Context) ([]models.WhitelistEntry, error) {
	entries, err := c.backend.FetchWhitelist(ctx, c.limits.Whitelist)
	if err != nil {
		return nil, err
	}
	return dedupeWhitelist(entries), nil
}

// dedupeWhitelist keeps the first entry per IP.
func dedupeWhitelist(entries []models.WhitelistEntry) []models.WhitelistEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]models.WhitelistEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.IP]; ok {
			continue
		}
		seen[e.IP] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Start launches every poll loop. Each one fetches immediately.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	c.runCtx = ctx
	c.runMu.Unlock()

	c.alerts.Start(ctx)
	c.active.Start(ctx)
	c.history.Start(ctx)
	c.config.Start(ctx)
	c.whitelist.Start(ctx)
	c.status.Start(ctx)
	system.Info("Coordinator started (alert limit %d)", c.alertLimit.Load())
}

// Stop tears down every poll loop and waits for them and any pending
// notifications to finish.
func (c *Coordinator) Stop() {
	for _, stop := range []func(){c.alerts.Stop, c.active.Stop, c.history.Stop, c.config.Stop, c.whitelist.Stop, c.status.Stop} {
		stop()
	}
	c.alerts.Wait()
	c.active.Wait()
	c.history.Wait()
	c.config.Wait()
	c.whitelist.Wait()
	c.status.Wait()
	c.notify.Wait()
	system.Info("Coordinator stopped")
}

// State returns a consistent copy of every slot.
func (c *Coordinator) State() ViewState {
	return ViewState{
		Alerts:       SlotOf(c.alerts.Snapshot()),
		ActiveBlocks: SlotOf(c.active.Snapshot()),
		BlockHistory: SlotOf(c.history.Snapshot()),
		Config:       SlotOf(c.config.Snapshot()),
		Whitelist:    SlotOf(c.whitelist.Snapshot()),
		Status:       SlotOf(c.status.Snapshot()),
		Draft:        c.Draft(),
		AlertLimit:   int(c.alertLimit.Load()),
	}
}

func (c *Coordinator) Alerts() []models.Alert             { return c.alerts.Snapshot().Data }
func (c *Coordinator) ActiveBlocks() []models.BlockRecord { return c.active.Snapshot().Data }
func (c *Coordinator) BlockHistory() []models.BlockRecord { return c.history.Snapshot().Data }
func (c *Coordinator) Whitelist() []models.WhitelistEntry { return c.whitelist.Snapshot().Data }

func (c *Coordinator) Status() poller.Snapshot[models.SystemStatus] { return c.status.Snapshot() }

// HistoryReady is closed once block history has loaded.
func (c *Coordinator) HistoryReady() <-chan struct{} { return c.historyReady }

// onAlerts hands attack alerts not seen before to the notifier. The first
// load only seeds the seen set.
func (c *Coordinator) onAlerts(alerts []models.Alert) {
	c.seenMu.Lock()
	var fresh []models.Alert
	for _, a := range alerts {
		if _, ok := c.seenAlerts[a.ID]; ok {
			continue
		}
		c.seenAlerts[a.ID] = struct{}{}
		if c.seeded && a.Attack {
			fresh = append(fresh, a)
		}
	}
	c.seeded = true
	// Forget ids that fell out of the window so the set stays bounded.
	if len(c.seenAlerts) > 4*MaxAlertLimit {
		keep := make(map[string]struct{}, len(alerts))
		for _, a := range alerts {
			keep[a.ID] = struct{}{}
		}
		c.seenAlerts = keep
	}
	c.seenMu.Unlock()

	if len(fresh) == 0 || c.notifier == nil {
		return
	}
	c.runMu.Lock()
	ctx := c.runCtx
	c.runMu.Unlock()

	c.notify.Add(1)
	go func() {
		defer c.notify.Done()
		if err := c.notifier.NotifyAttacks(ctx, fresh); err != nil {
			system.Logger().Warn("alert notification failed", zap.Int("alerts", len(fresh)), zap.Error(err))
		}
	}()
}

// onConfig reseeds the draft from fetched config unless it has local edits.
func (c *Coordinator) onConfig(doc models.ConfigDoc) {
	c.draftMu.Lock()
	defer c.draftMu.Unlock()
	c.base = doc
	if !c.draft.Dirty {
		c.draft.Config = doc
	}
	c.draft.Ready = true
	c.draft.Dirty = !sameSettings(c.draft.Config, c.base)
}

func sameSettings(a, b models.ConfigDoc) bool {
	return a.Threshold == b.Threshold && a.BlockDurationSec == b.BlockDurationSec && a.BlockingEnabled == b.BlockingEnabled
}

func validIP(field, ip string) error {
	if !models.ValidIP(ip) {
		return invalid(field, "%q is not an IP address", ip)
	}
	return nil
}

// SaveConfig validates and saves a partial update, then refreshes the
// config slot. A failed save leaves every slot untouched.
func (c *Coordinator) SaveConfig(ctx context.Context, update models.ConfigUpdate) (models.ConfigDoc, error) {
	if err := update.Validate(); err != nil {
		return models.ConfigDoc{}, invalid("config", "%s", err.Error())
	}
	saved, err := c.backend.SaveConfig(ctx, update)
	if err != nil {
		return models.ConfigDoc{}, err
	}

	doc, err := c.backend.FetchConfig(ctx)
	if err != nil {
		system.Logger().Warn("config refresh after save failed, using saved document", zap.Error(err))
		doc = saved
	}
	c.config.Overwrite(doc)
	return doc, nil
}

func (c *Coordinator) refreshActive(ctx context.Context, op string) {
	blocks, err := c.fetchActive(ctx)
	if err != nil {
		system.Logger().Warn("active blocks refresh failed", zap.String("after", op), zap.Error(err))
		return
	}
	c.active.Overwrite(blocks)
}

func (c *Coordinator) refreshWhitelist(ctx context.Context, op string) {
	entries, err := c.fetchWhitelist(ctx)
	if err != nil {
		system.Logger().Warn("whitelist refresh failed", zap.String("after", op), zap.Error(err))
		return
	}
	c.whitelist.Overwrite(entries)
}

// BlockIP issues a manual block and refreshes the active blocks slot.
func (c *Coordinator) BlockIP(ctx context.Context, req models.BlockRequest) error {
	if err := validIP("ip", req.IP); err != nil {
		return err
	}
	if req.DurationSec != nil && *req.DurationSec <= 0 {
		return invalid("duration_sec", "must be positive, got %d", *req.DurationSec)
	}
	if err := c.backend.BlockIP(ctx, req); err != nil {
		return err
	}
	c.refreshActive(ctx, "block")
	return nil
}

func (c *Coordinator) UnblockIP(ctx context.Context, ip string) error {
	if err := validIP("ip", ip); err != nil {
		return err
	}
	if err := c.backend.UnblockIP(ctx, ip); err != nil {
		return err
	}
	c.refreshActive(ctx, "unblock")
	return nil
}

func (c *Coordinator) AddWhitelist(ctx context.Context, ip, note string) error {
	if err := validIP("ip", ip); err != nil {
		return err
	}
	if err := c.backend.AddWhitelist(ctx, ip, note); err != nil {
		return err
	}
	c.refreshWhitelist(ctx, "whitelist add")
	return nil
}

func (c *Coordinator) RemoveWhitelist(ctx context.Context, ip string) error {
	if err := validIP("ip", ip); err != nil {
		return err
	}
	if err := c.backend.RemoveWhitelist(ctx, ip); err != nil {
		return err
	}
	c.refreshWhitelist(ctx, "whitelist remove")
	return nil
}

// SetAlertLimit changes how many alerts are fetched and restarts the
// alerts loop so the new limit applies at once.
func (c *Coordinator) SetAlertLimit(n int) error {
	if n <= 0 || n > MaxAlertLimit {
		return invalid("limit", "must be between 1 and %d, got %d", MaxAlertLimit, n)
	}
	if c.alertLimit.Swap(int64(n)) == int64(n) {
		return nil
	}
	c.alerts.Restart()
	return nil
}

func (c *Coordinator) Draft() Draft {
	c.draftMu.Lock()
	defer c.draftMu.Unlock()
	return c.draft
}

// ErrDraftNotReady is returned when the draft is edited before config loaded.
var ErrDraftNotReady = errors.New("config has not loaded yet")

// UpdateDraft applies a local edit. Nothing is sent to the backend.
func (c *Coordinator) UpdateDraft(update models.ConfigUpdate) (Draft, error) {
	if err := update.Validate(); err != nil {
		return Draft{}, invalid("config", "%s", err.Error())
	}
	c.draftMu.Lock()
	defer c.draftMu.Unlock()
	if !c.draft.Ready {
		return Draft{}, ErrDraftNotReady
	}
	c.draft.Config = update.Apply(c.draft.Config)
	c.draft.Dirty = !sameSettings(c.draft.Config, c.base)
	return c.draft, nil
}

// DiscardDraft resets the draft to the last fetched config.
func (c *Coordinator) DiscardDraft() Draft {
	c.draftMu.Lock()
	defer c.draftMu.Unlock()
	c.draft.Config = c.base
	c.draft.Dirty = false
	return c.draft
}

// SubmitDraft saves the fields the draft changed. A clean draft makes no call.
func (c *Coordinator) SubmitDraft(ctx context.Context) (models.ConfigDoc, error) {
	c.draftMu.Lock()
	if !c.draft.Ready {
		c.draftMu.Unlock()
		return models.ConfigDoc{}, ErrDraftNotReady
	}
	if !c.draft.Dirty {
		doc := c.base
		c.draftMu.Unlock()
		return doc, nil
	}
	update := models.Diff(c.base, c.draft.Config)
	c.draftMu.Unlock()

	doc, err := c.SaveConfig(ctx, update)
	if err != nil {
		return models.ConfigDoc{}, err
	}
	c.draftMu.Lock()
	c.draft.Config = doc
	c.draft.Dirty = false
	c.draftMu.Unlock()
	return doc, nil
}

// PreviewDetection classifies a feature vector without touching any slot.
func (c *Coordinator) PreviewDetection(ctx context.Context, fv models.FeatureVector) (models.DetectPreview, error) {
	if fv.SrcIP == "" {
		return models.DetectPreview{}, invalid("src_ip", "is required")
	}
	if fv.TotalPackets < 0 || fv.TotalBytes < 0 || fv.Duration < 0 {
		return models.DetectPreview{}, invalid("features", "counts and duration must not be negative")
	}
	return c.backend.PreviewDetection(ctx, fv)
}

func (c *Coordinator) TrainingStats(ctx context.Context) (models.TrainingStats, error) {
	return c.backend.FetchTrainingStats(ctx)
}

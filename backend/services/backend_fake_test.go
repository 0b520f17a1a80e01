package services

import (
	"context"
	"sync"
	"time"

	"ids-dashboard/backend/gateway"
	"ids-dashboard/backend/models"
)

// fakeBackend is an in-memory detection backend that records calls.
type fakeBackend struct {
	mu        sync.Mutex
	alerts    []models.Alert
	active    []models.BlockRecord
	history   []models.BlockRecord
	config    models.ConfigDoc
	whitelist []models.WhitelistEntry
	status    models.SystemStatus

	calls      map[string]int
	fail       map[string]error
	alertLimit int
	saved      []models.ConfigUpdate
	now        time.Time
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		config: models.ConfigDoc{Threshold: 0.7, BlockDurationSec: 600, BlockingEnabled: true},
		status: models.SystemStatus{Status: "ok", LiveCaptureActive: true, ModelLoaded: true, DBConnected: true},
		calls:  map[string]int{},
		fail:   map[string]error{},
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeBackend) enter(op string) error {
	f.calls[op]++
	return f.fail[op]
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) setFail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

func (f *fakeBackend) FetchAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertLimit = limit
	if err := f.enter("FetchAlerts"); err != nil {
		return nil, err
	}
	return append([]models.Alert(nil), f.alerts...), nil
}

func (f *fakeBackend) FetchActiveBlocks(_ context.Context, _ int) ([]models.BlockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchActiveBlocks"); err != nil {
		return nil, err
	}
	return append([]models.BlockRecord(nil), f.active...), nil
}

func (f *fakeBackend) FetchBlockHistory(_ context.Context, _ int) ([]models.BlockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchBlockHistory"); err != nil {
		return nil, err
	}
	return append([]models.BlockRecord(nil), f.history...), nil
}

func (f *fakeBackend) FetchConfig(context.Context) (models.ConfigDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchConfig"); err != nil {
		return models.ConfigDoc{}, err
	}
	return f.config, nil
}

func (f *fakeBackend) SaveConfig(_ context.Context, u models.ConfigUpdate) (models.ConfigDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SaveConfig"); err != nil {
		return models.ConfigDoc{}, err
	}
	f.saved = append(f.saved, u)
	f.config = u.Apply(f.config)
	return f.config, nil
}

func (f *fakeBackend) BlockIP(_ context.Context, req models.BlockRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BlockIP"); err != nil {
		return err
	}
	rec := models.BlockRecord{ID: "b-" + req.IP, IP: req.IP, BlockedAt: f.now, Actor: models.ActorAdmin, Reason: "manual", Note: req.Note}
	f.active = append(f.active, rec)
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeBackend) UnblockIP(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UnblockIP"); err != nil {
		return err
	}
	kept := f.active[:0]
	for _, b := range f.active {
		if b.IP != ip {
			kept = append(kept, b)
		}
	}
	f.active = kept
	return nil
}

func (f *fakeBackend) FetchWhitelist(_ context.Context, _ int) ([]models.WhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchWhitelist"); err != nil {
		return nil, err
	}
	return append([]models.WhitelistEntry(nil), f.whitelist...), nil
}

func (f *fakeBackend) AddWhitelist(_ context.Context, ip, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddWhitelist"); err != nil {
		return err
	}
	f.whitelist = append(f.whitelist, models.WhitelistEntry{IP: ip, Note: note})
	return nil
}

func (f *fakeBackend) RemoveWhitelist(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveWhitelist"); err != nil {
		return err
	}
	kept := f.whitelist[:0]
	for _, e := range f.whitelist {
		if e.IP != ip {
			kept = append(kept, e)
		}
	}
	f.whitelist = kept
	return nil
}

func (f *fakeBackend) PreviewDetection(_ context.Context, fv models.FeatureVector) (models.DetectPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PreviewDetection"); err != nil {
		return models.DetectPreview{}, err
	}
	return models.DetectPreview{Alert: fv.SynCount > 100, Score: 0.4, Threshold: f.config.Threshold}, nil
}

func (f *fakeBackend) FetchStatus(context.Context) (models.SystemStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchStatus"); err != nil {
		return models.SystemStatus{}, err
	}
	return f.status, nil
}

func (f *fakeBackend) FetchTrainingStats(context.Context) (models.TrainingStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchTrainingStats"); err != nil {
		return models.TrainingStats{}, err
	}
	return models.TrainingStats{Total: 3}, nil
}

func serverError(msg string) error {
	return &gateway.Error{Op: "test", Message: msg, HTTPStatus: 500}
}

package data

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/service/config"
	"github.com/natefinch/lumberjack"
	"golang.org/x/xerrors"
)

const journalFile = "journal.log"

// journalService appends one JSON document per line. Nothing is ever read back:
// the journal is diagnostics output, not session state.
type journalService struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func NewJournal(cfgsvc config.IService) IService {
	return newJournal(&lumberjack.Logger{
		Filename:   filepath.Join(cfgsvc.GetLogsFolder(), journalFile),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7,    // days
		Compress:   true, // compress old logs
	})
}

func newJournal(w io.WriteCloser) *journalService {
	return &journalService{
		w: w,
	}
}

func (svc *journalService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		return xerrors.Errorf("unsupported error value %T", err)
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	errorData := struct {
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	return newEntity(svc, "error", errorData)
}

func (svc *journalService) NewFramerStats(stats model.FramerStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(svc, "framer-stats", stats)
}

func (svc *journalService) NewGateStats(stats model.GateStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(svc, "gate-stats", stats)
}

func (svc *journalService) NewPresenterStats(stats model.PresenterStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(svc, "presenter-stats", stats)
}

func (svc *journalService) NewSessionStats(stats model.SessionStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(svc, "session-stats", stats)
}

func (svc *journalService) NewObservations(entry model.ObservationsEntry) error {
	entry.Timestamp = time.Now().Unix()
	return newEntity(svc, "observations", entry)
}

func (svc *journalService) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.w.Close()
}

type record[T any] struct {
	Kind      string `json:"kind"`
	Timestamp string `json:"time"`
	Data      T      `json:"data"`
}

func newEntity[T any](svc *journalService, kind string, entity T) error {
	data, err := json.Marshal(record[T]{
		Kind:      kind,
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      entity,
	})
	if err != nil {
		return xerrors.Errorf("marshal %s: %w", kind, err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, err := svc.w.Write(append(data, '\n')); err != nil {
		return xerrors.Errorf("write %s: %w", kind, err)
	}

	return nil
}

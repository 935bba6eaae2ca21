package data

import "github.com/khaledhikmat/vs-classifier/model"

type IService interface {
	NewError(err interface{}) error
	NewFramerStats(stats model.FramerStats) error
	NewGateStats(stats model.GateStats) error
	NewPresenterStats(stats model.PresenterStats) error
	NewSessionStats(stats model.SessionStats) error
	NewObservations(entry model.ObservationsEntry) error
	Close() error
}

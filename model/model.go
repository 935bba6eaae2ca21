package model

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/xerrors"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

// Rotation is the correction applied to a frame before it is classified.
type Rotation int

const (
	RotationNone Rotation = iota
	Rotation90Clockwise
	Rotation180
	Rotation90CounterClockwise
)

var rotationNames = map[Rotation]string{
	RotationNone:               "none",
	Rotation90Clockwise:        "cw90",
	Rotation180:                "180",
	Rotation90CounterClockwise: "ccw90",
}

func (r Rotation) String() string {
	if name, ok := rotationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rotation(%d)", int(r))
}

// ParseRotation accepts the names produced by Rotation.String.
func ParseRotation(s string) (Rotation, error) {
	for r, name := range rotationNames {
		if name == s {
			return r, nil
		}
	}
	return RotationNone, xerrors.Errorf("unknown rotation %q", s)
}

const (
	FramerTypeDevice = "device"
	FramerTypeRandom = "random"
)

type Device struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Index      int      `json:"index"`      // Video capture index, used when URL is empty
	URL        string   `json:"url"`        // Optional file or stream URL
	FramerType string   `json:"framerType"` // device | random
	Rotation   Rotation `json:"rotation"`
	FPS        int      `json:"fps"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
}

// Candidate is one (label, confidence) pair produced by a classifier.
type Candidate struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// ObservationSet maps a label to its confidence in [0,1].
// A new set always replaces the previous one.
type ObservationSet map[string]float32

// NewObservationSet builds a set from classifier candidates.
// Duplicate labels keep the last confidence seen.
func NewObservationSet(candidates []Candidate) ObservationSet {
	set := make(ObservationSet, len(candidates))
	for _, c := range candidates {
		set[c.Label] = c.Confidence
	}
	return set
}

func (s ObservationSet) Clone() ObservationSet {
	clone := make(ObservationSet, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

type ObservationsEntry struct {
	SessionID    string         `json:"sessionId"`
	RequestID    string         `json:"requestId"`
	Device       string         `json:"device"`
	Observations ObservationSet `json:"observations"`
	Timestamp    int64          `json:"timestamp"`
}

type FramerStats struct {
	Name      string `json:"name"`
	Device    string `json:"device"`
	FPS       int    `json:"fps"`
	Frames    int    `json:"frames"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

type GateStats struct {
	Name        string  `json:"name"`
	Device      string  `json:"device"`
	Frames      int64   `json:"frames"`
	Accepted    int64   `json:"accepted"`
	Dropped     int64   `json:"dropped"`
	Failed      int64   `json:"failed"`
	Published   int64   `json:"published"`
	InFlight    int     `json:"inFlight"`
	AvgProcTime float64 `json:"avgProcTime"`
	Timestamp   int64   `json:"timestamp"`
}

type PresenterStats struct {
	Name      string `json:"name"`
	Renders   int    `json:"renders"`
	Rows      int    `json:"rows"`
	Timestamp int64  `json:"timestamp"`
}

type SessionStats struct {
	ID        string `json:"id"`     // Session ID
	Mode      string `json:"mode"`   // Mode processor name
	Device    string `json:"device"` // Device name
	Uptime    int64  `json:"uptime"` // Uptime of the session
	Timestamp int64  `json:"timestamp"`
}

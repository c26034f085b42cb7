package robot

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned when the robot connection is down.
	ErrNotConnected = errors.New("robot: not connected")
	// ErrLivestreaming is returned for actions refused while the livestream runs.
	ErrLivestreaming = errors.New("robot: action unavailable while livestreaming")
)

// LiveState is the part of the live mirror the scan controls depend on.
type LiveState interface {
	Connected() bool
	Livestreaming() bool
	SetScanning(bool)
}

// Scanner drives scan runs.
type Scanner interface {
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
}

// ControlScan starts (start true) or stops a scan. It refuses when the robot is
// disconnected or livestreaming, and records the new scanning state on success.
func ControlScan(ctx context.Context, s Scanner, live LiveState, start bool) error {
	if !live.Connected() {
		return ErrNotConnected
	}
	if live.Livestreaming() {
		return ErrLivestreaming
	}
	var err error
	if start {
		err = s.StartScan(ctx)
	} else {
		err = s.StopScan(ctx)
	}
	if err != nil {
		return err
	}
	live.SetScanning(start)
	return nil
}

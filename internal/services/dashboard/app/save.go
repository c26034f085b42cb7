package app

import (
	"context"
	"fmt"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/robot"
)

// SaveResult reports what a successful save reached beyond the cloud.
type SaveResult struct {
	RobotUpdated bool
	Persisted    bool
}

// Save pushes the working configuration to the cloud account and, once the cloud
// accepted it, makes it the baseline, pushes it to the robot and stores it as a
// local revision. Robot and revision failures are reported but do not undo the
// save. A cloud failure leaves the baseline untouched.
//
// Only one save runs at a time; configuration writes are refused meanwhile so the
// baseline is exactly the configuration the cloud accepted.
func (a *App) Save(ctx context.Context) (SaveResult, error) {
	if a.cfg.Mirror.Livestreaming() {
		return SaveResult{}, robot.ErrLivestreaming
	}
	if a.cfg.Cloud == nil {
		return SaveResult{}, errNoCloud
	}
	if !a.writes.TryLock() {
		return SaveResult{}, ErrBusy
	}
	a.saving.Store(true)
	defer func() {
		a.saving.Store(false)
		a.writes.Unlock()
	}()

	snapshot := a.cfg.Store.CurrentConfig()
	if err := a.cfg.Cloud.UpdateConfig(ctx, a.cfg.Email, snapshot); err != nil {
		a.obs.ConfigSaved(err)
		return SaveResult{}, fmt.Errorf("save to cloud: %w", err)
	}
	a.cfg.Store.SaveConfig()
	a.obs.ConfigSaved(nil)

	var res SaveResult
	if a.cfg.Robot != nil {
		if err := a.cfg.Robot.UpdateConfig(ctx, snapshot); err != nil {
			a.log.Warn("configuration saved to cloud, but robot not updated", "error", err)
		} else {
			res.RobotUpdated = true
		}
	}
	if a.cfg.Repo != nil {
		if err := a.cfg.Repo.Save(ctx, snapshot); err != nil {
			a.log.Error("storing configuration revision failed", "error", err)
		} else {
			res.Persisted = true
		}
	}
	a.log.Info("configuration saved", "robot_updated", res.RobotUpdated, "persisted", res.Persisted)
	return res, nil
}

// beginWrite refuses configuration writes during a save. The returned function
// ends the write.
func (a *App) beginWrite() (done func(), err error) {
	if !a.writes.TryRLock() {
		return nil, ErrBusy
	}
	return a.writes.RUnlock, nil
}

// beginLiveWrite also refuses while the robot livestreams.
func (a *App) beginLiveWrite() (done func(), err error) {
	if a.cfg.Mirror.Livestreaming() {
		return nil, robot.ErrLivestreaming
	}
	return a.beginWrite()
}

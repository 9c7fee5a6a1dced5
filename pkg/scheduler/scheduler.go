// Copyright 2018-2019 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package scheduler runs the two daily cron jobs that drive assets
// through the lifecycle automatically: auto_archive and auto_destroy.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opencloud-eu/assetmanager/pkg/alog"
	"github.com/opencloud-eu/assetmanager/pkg/lifecycle"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/metrics"
)

var logger = alog.New("scheduler")

// adminUsername names the synthetic identity scheduler jobs act as: every
// lifecycle operation requires a permission check, and the scheduler
// always has the admin's full authority within the branch it touches.
const adminUsername = "admin"

// AuditLogRetention is how far back the audit-log cleanup reaches
// before each auto_destroy run.
const AuditLogRetention = 120 * 24 * time.Hour

// Scheduler owns the cron runtime and the coordinator it drives.
type Scheduler struct {
	coordinator *lifecycle.Coordinator
	meta        metastore.Store
	location    *time.Location
	cron        *cron.Cron
}

// New builds a Scheduler whose cron jobs are evaluated in loc (UTC
// when loc is nil).
func New(coordinator *lifecycle.Coordinator, meta metastore.Store, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		coordinator: coordinator,
		meta:        meta,
		location:    loc,
		cron:        cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogAdapter{})),
	}
}

// Start registers the auto_archive and auto_destroy jobs and starts
// the cron runtime in its own goroutine. archiveSpec/destroySpec are
// cron expressions, e.g. "0 2 * * *" for 2am daily.
func (s *Scheduler) Start(archiveSpec, destroySpec string) error {
	if _, err := s.cron.AddFunc(archiveSpec, func() { s.runAutoArchive(context.Background()) }); err != nil {
		return fmt.Errorf("scheduler: register auto_archive: %w", err)
	}
	if _, err := s.cron.AddFunc(destroySpec, func() { s.runAutoDestroy(context.Background()) }); err != nil {
		return fmt.Errorf("scheduler: register auto_destroy: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runtime, waiting for any in-flight job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunArchiveOnce triggers a single auto_archive pass outside the cron
// schedule. Exposed for an operator CLI to force a sweep without
// waiting for the next trigger.
func (s *Scheduler) RunArchiveOnce(ctx context.Context) {
	s.runAutoArchive(ctx)
}

// RunDestroyOnce triggers a single auto_destroy pass outside the cron
// schedule, including its audit-log cleanup step.
func (s *Scheduler) RunDestroyOnce(ctx context.Context) {
	s.runAutoDestroy(ctx)
}

// runAutoArchive sweeps active records whose archive_date has passed.
// Already-archived records fail Archive's precondition and are
// swallowed, which is what makes re-running the job on the same minute
// idempotent.
func (s *Scheduler) runAutoArchive(ctx context.Context) {
	now := time.Now().In(s.location)
	assets, err := s.meta.AssetsToArchive(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("auto_archive: failed to list candidate assets")
		metrics.SchedulerRunsTotal.WithLabelValues("auto_archive", "error").Inc()
		return
	}

	processed := 0
	for _, asset := range assets {
		if _, err := s.coordinator.Archive(ctx, adminFor(asset.Branch), asset.Branch, asset.AssetPath, asset.VersionID); err != nil {
			logger.Info().Err(err).Str("asset_path", asset.AssetPath).Msg("auto_archive: skipped")
			continue
		}
		processed++
	}
	metrics.SchedulerAssetsProcessed.WithLabelValues("auto_archive").Add(float64(processed))
	metrics.SchedulerRunsTotal.WithLabelValues("auto_archive", "ok").Inc()
	logger.Info().Int("processed", processed).Int("candidates", len(assets)).Msg("auto_archive run complete")
}

// runAutoDestroy prunes expired audit log entries, then sweeps
// archived assets whose destroy_date has passed.
func (s *Scheduler) runAutoDestroy(ctx context.Context) {
	now := time.Now().In(s.location)
	if _, err := s.meta.CleanupLogs(ctx, now.Add(-AuditLogRetention), 1000); err != nil {
		logger.Error().Err(err).Msg("auto_destroy: audit log cleanup failed")
	}

	assets, err := s.meta.AssetsToDestroy(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("auto_destroy: failed to list candidate assets")
		metrics.SchedulerRunsTotal.WithLabelValues("auto_destroy", "error").Inc()
		return
	}

	processed := 0
	for _, asset := range assets {
		if _, err := s.coordinator.Destroy(ctx, adminFor(asset.Branch), asset.Branch, asset.AssetPath, asset.VersionID); err != nil {
			logger.Info().Err(err).Str("asset_path", asset.AssetPath).Msg("auto_destroy: skipped")
			continue
		}
		processed++
	}
	metrics.SchedulerAssetsProcessed.WithLabelValues("auto_destroy").Add(float64(processed))
	metrics.SchedulerRunsTotal.WithLabelValues("auto_destroy", "ok").Inc()
	logger.Info().Int("processed", processed).Int("candidates", len(assets)).Msg("auto_destroy run complete")
}

func adminFor(branch string) *metastore.User {
	return &metastore.User{Username: adminUsername, Branch: branch, Permissions: []metastore.Permission{metastore.PermAdmin}}
}

type cronLogAdapter struct{}

func (cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

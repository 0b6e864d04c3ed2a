// Package datamart maintains the weekly_case_counts rollup table. The
// refresher rebuilds it from per-day counts on a cron schedule so the
// corridor aggregator reads precomputed rows instead of scanning case
// events across years.
package datamart

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/domain"
	"github.com/episurv-server/internal/epiweek"
)

// anchors lists every date field the datamart is rebuilt for.
var anchors = []domain.AnchorField{
	domain.AnchorSymptomOnset,
	domain.AnchorCaseOpened,
	domain.AnchorMinEvidence,
}

// Refresher rebuilds the weekly datamart for a rolling span of years.
type Refresher struct {
	store domain.DatamartStore
	cfg   domain.DatamartConfig
	cron  *cron.Cron
	log   *logrus.Logger
}

// NewRefresher creates a refresher. Call Start to schedule it.
func NewRefresher(store domain.DatamartStore, cfg domain.DatamartConfig, logger *logrus.Logger) *Refresher {
	return &Refresher{
		store: store,
		cfg:   cfg,
		log:   logger,
	}
}

// Start schedules the refresh job. Disabled config is a no-op.
func (r *Refresher) Start() error {
	if !r.cfg.Enabled {
		r.log.Info("Datamart refresher disabled")
		return nil
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := r.RefreshAll(ctx, time.Now().UTC()); err != nil {
			r.log.WithError(err).Error("Scheduled datamart refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling datamart refresh: %w", err)
	}

	r.cron.Start()
	r.log.WithField("schedule", r.cfg.Schedule).Info("Datamart refresher started")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Refresher) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RefreshAll rebuilds every anchor for the configured span of epi-years
// ending at the year containing now.
func (r *Refresher) RefreshAll(ctx context.Context, now time.Time) error {
	currentYear, _ := epiweek.DateToEpiWeek(now)
	firstYear := currentYear - r.cfg.YearsBack

	started := time.Now()
	for year := firstYear; year <= currentYear; year++ {
		for _, anchor := range anchors {
			if err := r.RefreshYear(ctx, anchor, year); err != nil {
				return fmt.Errorf("refreshing %s/%d: %w", anchor, year, err)
			}
		}
	}

	r.log.WithFields(logrus.Fields{
		"first_year": firstYear,
		"last_year":  currentYear,
		"duration":   time.Since(started).String(),
	}).Info("Datamart refresh complete")
	return nil
}

// RefreshYear rebuilds one (anchor, epi-year) slice of the datamart. It
// queries daily counts over the epi-year's exact date span, buckets each
// date into its epi-week and replaces the year's rows atomically.
func (r *Refresher) RefreshYear(ctx context.Context, anchor domain.AnchorField, epiYear int) error {
	from := epiweek.Week1Start(epiYear)
	to := epiweek.Week1Start(epiYear + 1).AddDate(0, 0, -1)

	daily, err := r.store.DailyCounts(ctx, anchor, from, to)
	if err != nil {
		return fmt.Errorf("loading daily counts: %w", err)
	}

	type key struct {
		week           int
		diseaseTypeID  int64
		classification domain.ClassificationStatus
	}
	buckets := make(map[key]int)
	for _, d := range daily {
		y, w := epiweek.DateToEpiWeek(d.Date)
		// The span [Week1Start(y), Week1Start(y+1)) is exactly the
		// epi-year, so every date buckets into it.
		if y != epiYear {
			continue
		}
		buckets[key{w, d.DiseaseTypeID, d.Classification}] += d.Count
	}

	rows := make([]domain.WeeklyCountRow, 0, len(buckets))
	for k, count := range buckets {
		rows = append(rows, domain.WeeklyCountRow{
			Year:           epiYear,
			Week:           k.week,
			DiseaseTypeID:  k.diseaseTypeID,
			Classification: k.classification,
			Count:          count,
		})
	}

	if err := r.store.ReplaceWeeklyCounts(ctx, anchor, epiYear, rows); err != nil {
		return fmt.Errorf("replacing weekly counts: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"anchor":   anchor,
		"epi_year": epiYear,
		"rows":     len(rows),
	}).Debug("Datamart year refreshed")
	return nil
}

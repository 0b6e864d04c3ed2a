package datamart

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/episurv-server/internal/domain"
)

type replaceCall struct {
	anchor  domain.AnchorField
	epiYear int
	rows    []domain.WeeklyCountRow
}

type fakeDatamartStore struct {
	daily    []domain.DailyCount
	dailyErr error
	replaced []replaceCall
	ranges   [][2]time.Time
}

func (f *fakeDatamartStore) DailyCounts(ctx context.Context, anchor domain.AnchorField, from, to time.Time) ([]domain.DailyCount, error) {
	f.ranges = append(f.ranges, [2]time.Time{from, to})
	if f.dailyErr != nil {
		return nil, f.dailyErr
	}
	var out []domain.DailyCount
	for _, d := range f.daily {
		if !d.Date.Before(from) && !d.Date.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDatamartStore) ReplaceWeeklyCounts(ctx context.Context, anchor domain.AnchorField, epiYear int, rows []domain.WeeklyCountRow) error {
	f.replaced = append(f.replaced, replaceCall{anchor: anchor, epiYear: epiYear, rows: rows})
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestRefreshYear_BucketsByEpiWeek(t *testing.T) {
	store := &fakeDatamartStore{
		daily: []domain.DailyCount{
			// Epi-year 2025 starts 2024-12-29; these three dates fall in
			// week 1, week 1 and week 2 respectively.
			{Date: date(2024, 12, 30), DiseaseTypeID: 1, Classification: domain.ClassificationConfirmed, Count: 3},
			{Date: date(2025, 1, 2), DiseaseTypeID: 1, Classification: domain.ClassificationConfirmed, Count: 4},
			{Date: date(2025, 1, 6), DiseaseTypeID: 1, Classification: domain.ClassificationConfirmed, Count: 5},
			{Date: date(2025, 1, 6), DiseaseTypeID: 2, Classification: domain.ClassificationSuspected, Count: 1},
		},
	}
	r := NewRefresher(store, domain.DatamartConfig{}, testLogger())

	require.NoError(t, r.RefreshYear(context.Background(), domain.AnchorSymptomOnset, 2025))

	require.Len(t, store.replaced, 1)
	call := store.replaced[0]
	assert.Equal(t, domain.AnchorSymptomOnset, call.anchor)
	assert.Equal(t, 2025, call.epiYear)

	rows := call.rows
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Week != rows[j].Week {
			return rows[i].Week < rows[j].Week
		}
		return rows[i].DiseaseTypeID < rows[j].DiseaseTypeID
	})
	require.Len(t, rows, 3)
	assert.Equal(t, domain.WeeklyCountRow{Year: 2025, Week: 1, DiseaseTypeID: 1,
		Classification: domain.ClassificationConfirmed, Count: 7}, rows[0])
	assert.Equal(t, 2, rows[1].Week)
	assert.Equal(t, 5, rows[1].Count)
	assert.Equal(t, int64(2), rows[2].DiseaseTypeID)
}

func TestRefreshYear_QueriesExactEpiYearSpan(t *testing.T) {
	store := &fakeDatamartStore{}
	r := NewRefresher(store, domain.DatamartConfig{}, testLogger())

	require.NoError(t, r.RefreshYear(context.Background(), domain.AnchorCaseOpened, 2025))

	require.Len(t, store.ranges, 1)
	// 2025 is a 53-week epi-year: 2024-12-29 through 2026-01-03.
	assert.Equal(t, date(2024, 12, 29), store.ranges[0][0])
	assert.Equal(t, date(2026, 1, 3), store.ranges[0][1])
}

func TestRefreshYear_EmptyYearStillReplaces(t *testing.T) {
	store := &fakeDatamartStore{}
	r := NewRefresher(store, domain.DatamartConfig{}, testLogger())

	require.NoError(t, r.RefreshYear(context.Background(), domain.AnchorSymptomOnset, 2023))
	require.Len(t, store.replaced, 1)
	assert.Empty(t, store.replaced[0].rows)
}

func TestRefreshAll_CoversConfiguredSpan(t *testing.T) {
	store := &fakeDatamartStore{}
	r := NewRefresher(store, domain.DatamartConfig{YearsBack: 2}, testLogger())

	require.NoError(t, r.RefreshAll(context.Background(), date(2024, 6, 15)))

	// 3 years x 3 anchors.
	assert.Len(t, store.replaced, 9)
	years := map[int]bool{}
	for _, c := range store.replaced {
		years[c.epiYear] = true
	}
	assert.Equal(t, map[int]bool{2022: true, 2023: true, 2024: true}, years)
}

func TestRefreshAll_PropagatesStoreError(t *testing.T) {
	store := &fakeDatamartStore{dailyErr: errors.New("connection reset")}
	r := NewRefresher(store, domain.DatamartConfig{YearsBack: 1}, testLogger())

	err := r.RefreshAll(context.Background(), date(2024, 6, 15))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading daily counts")
}

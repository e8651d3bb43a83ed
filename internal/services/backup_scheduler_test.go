package services

import (
	"testing"
	"time"

	"github.com/netvault/backend/internal/models"
)

func schedulerForTest() *BackupSchedulerService {
	return &BackupSchedulerService{stopChan: make(chan struct{})}
}

// at returns the first occurrence of weekday on or after the given June 2026
// day, at the given time.
func at(weekday time.Weekday, day, hour, minute int) time.Time {
	base := time.Date(2026, time.June, day, hour, minute, 0, 0, time.UTC)
	offset := (int(weekday) - int(base.Weekday()) + 7) % 7
	return base.AddDate(0, 0, offset)
}

func TestIsDueDaily(t *testing.T) {
	s := schedulerForTest()
	job := &models.BackupJob{Name: "nightly", Frequency: models.FrequencyDaily, TimeOfDay: "02:30"}

	if !s.isDue(job, time.Date(2026, time.June, 10, 2, 30, 45, 0, time.UTC)) {
		t.Fatal("daily job should be due at its scheduled minute")
	}
	if s.isDue(job, time.Date(2026, time.June, 10, 2, 31, 0, 0, time.UTC)) {
		t.Fatal("daily job should not be due one minute later")
	}
	if s.isDue(job, time.Date(2026, time.June, 10, 14, 30, 0, 0, time.UTC)) {
		t.Fatal("daily job should not be due at the wrong hour")
	}
}

func TestIsDueWeekly(t *testing.T) {
	s := schedulerForTest()
	job := &models.BackupJob{
		Name:      "weekly",
		Frequency: models.FrequencyWeekly,
		TimeOfDay: "03:00",
		DayOfWeek: int(time.Friday),
	}

	friday := at(time.Friday, 1, 3, 0)
	if !s.isDue(job, friday) {
		t.Fatalf("weekly job should be due on Friday, checked %s", friday.Weekday())
	}
	monday := at(time.Monday, 1, 3, 0)
	if s.isDue(job, monday) {
		t.Fatal("weekly job should not be due on Monday")
	}
}

func TestIsDueMonthly(t *testing.T) {
	s := schedulerForTest()
	job := &models.BackupJob{
		Name:       "monthly",
		Frequency:  models.FrequencyMonthly,
		TimeOfDay:  "00:15",
		DayOfMonth: 15,
	}

	if !s.isDue(job, time.Date(2026, time.June, 15, 0, 15, 0, 0, time.UTC)) {
		t.Fatal("monthly job should be due on its day of month")
	}
	if s.isDue(job, time.Date(2026, time.June, 16, 0, 15, 0, 0, time.UTC)) {
		t.Fatal("monthly job should not be due on other days")
	}
}

func TestIsDueInvalidTimeOfDay(t *testing.T) {
	s := schedulerForTest()
	job := &models.BackupJob{Name: "broken", Frequency: models.FrequencyDaily, TimeOfDay: "not-a-time"}

	if s.isDue(job, time.Now()) {
		t.Fatal("unparseable time_of_day must never match")
	}
}

func TestCalculateNextRunDaily(t *testing.T) {
	s := schedulerForTest()
	job := &models.BackupJob{Frequency: models.FrequencyDaily, TimeOfDay: "22:00"}

	// Before today's slot: fires later today
	now := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	next := s.calculateNextRun(job, now)
	want := time.Date(2026, time.June, 10, 22, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// After today's slot: rolls to tomorrow
	now = time.Date(2026, time.June, 10, 23, 0, 0, 0, time.UTC)
	next = s.calculateNextRun(job, now)
	want = time.Date(2026, time.June, 11, 22, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextRunWeekly(t *testing.T) {
	s := schedulerForTest()
	job := &models.BackupJob{
		Frequency: models.FrequencyWeekly,
		TimeOfDay: "03:00",
		DayOfWeek: int(time.Sunday),
	}

	// Wednesday June 10th 2026: next Sunday is the 14th
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)
	next := s.calculateNextRun(job, now)
	want := time.Date(2026, time.June, 14, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// On Sunday after the slot: rolls a full week
	now = time.Date(2026, time.June, 14, 4, 0, 0, 0, time.UTC)
	next = s.calculateNextRun(job, now)
	want = time.Date(2026, time.June, 21, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextRunMonthly(t *testing.T) {
	s := schedulerForTest()
	job := &models.BackupJob{
		Frequency:  models.FrequencyMonthly,
		TimeOfDay:  "01:00",
		DayOfMonth: 1,
	}

	// Mid-month: rolls to the 1st of the next month
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)
	next := s.calculateNextRun(job, now)
	want := time.Date(2026, time.July, 1, 1, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Before this month's slot: fires this month
	now = time.Date(2026, time.June, 1, 0, 30, 0, 0, time.UTC)
	next = s.calculateNextRun(job, now)
	want = time.Date(2026, time.June, 1, 1, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

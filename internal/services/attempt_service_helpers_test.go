package services

import (
	"errors"
	"testing"
	"time"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func settingsWith(deadline *time.Time, policy models.OverdueHandling, grace time.Duration) deadlineSettings {
	return deadlineSettings{deadline: deadline, policy: policy, grace: grace}
}

func TestComputeTimeCheckBeforeDeadline(t *testing.T) {
	deadline := baseTime.Add(10 * time.Minute)
	settings := settingsWith(&deadline, models.OverdueAutoSubmit, 0)

	d := computeTimeCheck(models.AttemptInProgress, settings, baseTime, false)
	if d.action != actionReschedule {
		t.Fatalf("action = %v, want reschedule", d.action)
	}
	if d.nextCheck == nil || !d.nextCheck.Equal(deadline) {
		t.Errorf("nextCheck = %v, want the deadline", d.nextCheck)
	}
}

func TestComputeTimeCheckAutoSubmit(t *testing.T) {
	deadline := baseTime
	settings := settingsWith(&deadline, models.OverdueAutoSubmit, 0)

	t.Run("sweep stamps the deadline", func(t *testing.T) {
		// An attempt swept long after its deadline finishes as of the
		// deadline the user actually had.
		now := baseTime.Add(5 * time.Minute)
		d := computeTimeCheck(models.AttemptInProgress, settings, now, false)
		if d.action != actionFinish {
			t.Fatalf("action = %v, want finish", d.action)
		}
		if !d.finishTime.Equal(deadline) {
			t.Errorf("finishTime = %v, want deadline %v", d.finishTime, deadline)
		}
	})

	t.Run("live submission stamps now", func(t *testing.T) {
		now := baseTime.Add(time.Second)
		d := computeTimeCheck(models.AttemptInProgress, settings, now, true)
		if d.action != actionFinish {
			t.Fatalf("action = %v, want finish", d.action)
		}
		if !d.finishTime.Equal(now) {
			t.Errorf("finishTime = %v, want now %v", d.finishTime, now)
		}
	})
}

func TestComputeTimeCheckGracePeriod(t *testing.T) {
	deadline := baseTime
	grace := 10 * time.Minute
	settings := settingsWith(&deadline, models.OverdueGracePeriod, grace)

	t.Run("within grace goes overdue", func(t *testing.T) {
		d := computeTimeCheck(models.AttemptInProgress, settings, baseTime.Add(time.Minute), false)
		if d.action != actionOverdue {
			t.Fatalf("action = %v, want overdue", d.action)
		}
		if d.nextCheck == nil || !d.nextCheck.Equal(deadline.Add(grace)) {
			t.Errorf("nextCheck = %v, want end of grace", d.nextCheck)
		}
	})

	t.Run("past grace abandons", func(t *testing.T) {
		d := computeTimeCheck(models.AttemptInProgress, settings, baseTime.Add(grace+time.Second), false)
		if d.action != actionAbandon {
			t.Fatalf("action = %v, want abandon", d.action)
		}
	})

	t.Run("overdue attempt waits out its grace", func(t *testing.T) {
		d := computeTimeCheck(models.AttemptOverdue, settings, baseTime.Add(time.Minute), false)
		if d.action != actionReschedule {
			t.Fatalf("action = %v, want reschedule", d.action)
		}
	})

	t.Run("overdue attempt abandons after grace", func(t *testing.T) {
		d := computeTimeCheck(models.AttemptOverdue, settings, baseTime.Add(grace+time.Second), false)
		if d.action != actionAbandon {
			t.Fatalf("action = %v, want abandon", d.action)
		}
	})
}

func TestComputeTimeCheckAutoAbandon(t *testing.T) {
	deadline := baseTime
	settings := settingsWith(&deadline, models.OverdueAutoAbandon, 0)

	d := computeTimeCheck(models.AttemptInProgress, settings, baseTime.Add(time.Second), false)
	if d.action != actionAbandon {
		t.Fatalf("action = %v, want abandon", d.action)
	}
}

func TestComputeTimeCheckNoOps(t *testing.T) {
	deadline := baseTime
	settings := settingsWith(&deadline, models.OverdueAutoSubmit, 0)

	t.Run("terminal states", func(t *testing.T) {
		for _, state := range []models.AttemptState{models.AttemptFinished, models.AttemptAbandoned} {
			if d := computeTimeCheck(state, settings, baseTime.Add(time.Hour), false); d.action != actionNone {
				t.Errorf("state %s: action = %v, want none", state, d.action)
			}
		}
	})

	t.Run("no deadline", func(t *testing.T) {
		open := settingsWith(nil, models.OverdueAutoSubmit, 0)
		if d := computeTimeCheck(models.AttemptInProgress, open, baseTime, false); d.action != actionNone {
			t.Errorf("action = %v, want none", d.action)
		}
	})
}

func TestApplyFinish(t *testing.T) {
	attempt := &models.Attempt{State: models.AttemptInProgress}
	now := baseTime.Add(time.Hour)

	if err := applyFinish(attempt, now, baseTime); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if attempt.State != models.AttemptFinished {
		t.Errorf("state = %s, want finished", attempt.State)
	}
	if attempt.FinishedAt == nil || !attempt.FinishedAt.Equal(baseTime) {
		t.Errorf("finished_at = %v, want %v", attempt.FinishedAt, baseTime)
	}
	if attempt.TimeCheck != nil {
		t.Error("time_check not cleared")
	}

	// Finalization is decided exactly once.
	if err := applyFinish(attempt, now, now); !errors.Is(err, ErrAttemptAlreadyFinalized) {
		t.Fatalf("second finish: %v, want ErrAttemptAlreadyFinalized", err)
	}
	if err := applyAbandon(attempt, now); !errors.Is(err, ErrAttemptAlreadyFinalized) {
		t.Fatalf("abandon after finish: %v, want ErrAttemptAlreadyFinalized", err)
	}
}

func TestApplyAbandon(t *testing.T) {
	attempt := &models.Attempt{
		State:     models.AttemptOverdue,
		TimeCheck: timePtr(baseTime),
	}
	if err := applyAbandon(attempt, baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}
	if attempt.State != models.AttemptAbandoned {
		t.Errorf("state = %s, want abandoned", attempt.State)
	}
	if attempt.FinishedAt != nil {
		t.Error("abandoned attempt got a finish time")
	}
	if attempt.TimeCheck != nil {
		t.Error("time_check not cleared")
	}
}

func TestResolveTimingOverrides(t *testing.T) {
	userID := "u1"
	otherID := "u2"
	groupID := "g1"
	laterClose := baseTime.Add(2 * time.Hour)
	evenLater := baseTime.Add(3 * time.Hour)
	limit30 := 1800
	limit60 := 3600

	assessment := &models.Assessment{
		TimeClose: timePtr(baseTime.Add(time.Hour)),
		TimeLimit: 600,
	}

	t.Run("no overrides keeps assessment values", func(t *testing.T) {
		close, limit := resolveTimingOverrides(assessment, nil, userID)
		if !close.Equal(*assessment.TimeClose) || limit != 600 {
			t.Errorf("got close=%v limit=%d", close, limit)
		}
	})

	t.Run("user override wins over groups", func(t *testing.T) {
		overrides := []*models.AssessmentOverride{
			{GroupID: &groupID, TimeClose: &evenLater, TimeLimit: &limit60},
			{UserID: &userID, TimeClose: &laterClose, TimeLimit: &limit30},
		}
		close, limit := resolveTimingOverrides(assessment, overrides, userID)
		if !close.Equal(laterClose) {
			t.Errorf("close = %v, want user override %v", close, laterClose)
		}
		if limit != limit30 {
			t.Errorf("limit = %d, want user override %d", limit, limit30)
		}
	})

	t.Run("most generous group value applies per field", func(t *testing.T) {
		overrides := []*models.AssessmentOverride{
			{GroupID: &groupID, TimeClose: &laterClose, TimeLimit: &limit60},
			{GroupID: &groupID, TimeClose: &evenLater, TimeLimit: &limit30},
		}
		close, limit := resolveTimingOverrides(assessment, overrides, userID)
		if !close.Equal(evenLater) {
			t.Errorf("close = %v, want latest group close %v", close, evenLater)
		}
		if limit != limit60 {
			t.Errorf("limit = %d, want longest group limit %d", limit, limit60)
		}
	})

	t.Run("another user's override is ignored", func(t *testing.T) {
		overrides := []*models.AssessmentOverride{
			{UserID: &otherID, TimeClose: &evenLater},
		}
		close, _ := resolveTimingOverrides(assessment, overrides, userID)
		if !close.Equal(*assessment.TimeClose) {
			t.Errorf("close = %v, want assessment default", close)
		}
	})
}

func TestComputeDeadline(t *testing.T) {
	close := baseTime.Add(time.Hour)

	t.Run("limit ends before close", func(t *testing.T) {
		deadline := computeDeadline(baseTime, &close, 600, false)
		want := baseTime.Add(10 * time.Minute)
		if deadline == nil || !deadline.Equal(want) {
			t.Errorf("deadline = %v, want %v", deadline, want)
		}
	})

	t.Run("close ends before limit", func(t *testing.T) {
		deadline := computeDeadline(baseTime, &close, 7200, false)
		if deadline == nil || !deadline.Equal(close) {
			t.Errorf("deadline = %v, want close %v", deadline, close)
		}
	})

	t.Run("no constraint", func(t *testing.T) {
		if deadline := computeDeadline(baseTime, nil, 0, false); deadline != nil {
			t.Errorf("deadline = %v, want nil", deadline)
		}
	})

	t.Run("preview is unconstrained", func(t *testing.T) {
		if deadline := computeDeadline(baseTime, &close, 600, true); deadline != nil {
			t.Errorf("deadline = %v, want nil for preview", deadline)
		}
	})
}

func TestTooLate(t *testing.T) {
	deadline := baseTime
	settings := settingsWith(&deadline, models.OverdueAutoSubmit, 0)

	if settings.tooLate(baseTime.Add(30 * time.Second)) {
		t.Error("submission inside the minimum grace counted as too late")
	}
	if !settings.tooLate(baseTime.Add(2 * time.Minute)) {
		t.Error("submission past the minimum grace not flagged as too late")
	}
	open := settingsWith(nil, models.OverdueAutoSubmit, 0)
	if open.tooLate(baseTime.Add(24 * time.Hour)) {
		t.Error("attempt without deadline flagged as too late")
	}
}

func TestAggregateGrade(t *testing.T) {
	attempts := []*models.Attempt{
		{AttemptNumber: 1, SumGrades: 5},
		{AttemptNumber: 2, SumGrades: 9},
		{AttemptNumber: 3, SumGrades: 7},
	}

	cases := []struct {
		method models.GradeMethod
		want   float64
	}{
		{models.GradeHighest, 9},
		{models.GradeAverage, 7},
		{models.GradeFirst, 5},
		{models.GradeLast, 7},
	}
	for _, tc := range cases {
		if got := aggregateGrade(tc.method, attempts); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.method, got, tc.want)
		}
	}
	if got := aggregateGrade(models.GradeHighest, nil); got != 0 {
		t.Errorf("empty attempts = %v, want 0", got)
	}
}

func TestComputeSubmitTimeUp(t *testing.T) {
	deadline := baseTime
	grace := 10 * time.Minute

	t.Run("autosubmit finishes the attempt", func(t *testing.T) {
		// A timer expiry under autosubmit closes the attempt; it must not
		// park it overdue.
		settings := settingsWith(&deadline, models.OverdueAutoSubmit, 0)
		d := computeSubmit(models.AttemptInProgress, settings, baseTime.Add(time.Second), false, true)
		if d.action != submitFinish {
			t.Fatalf("action = %v, want finish", d.action)
		}
	})

	t.Run("graceperiod parks the attempt overdue", func(t *testing.T) {
		settings := settingsWith(&deadline, models.OverdueGracePeriod, grace)
		d := computeSubmit(models.AttemptInProgress, settings, baseTime.Add(time.Second), false, true)
		if d.action != submitOverdue {
			t.Fatalf("action = %v, want overdue", d.action)
		}
		if d.nextCheck == nil || !d.nextCheck.Equal(deadline.Add(grace)) {
			t.Errorf("nextCheck = %v, want end of grace", d.nextCheck)
		}
	})

	t.Run("graceperiod closing submission finishes", func(t *testing.T) {
		settings := settingsWith(&deadline, models.OverdueGracePeriod, grace)
		d := computeSubmit(models.AttemptOverdue, settings, baseTime.Add(time.Minute), true, true)
		if d.action != submitFinish {
			t.Fatalf("action = %v, want finish", d.action)
		}
	})

	t.Run("autoabandon drops the attempt", func(t *testing.T) {
		settings := settingsWith(&deadline, models.OverdueAutoAbandon, 0)
		d := computeSubmit(models.AttemptInProgress, settings, baseTime.Add(time.Second), false, true)
		if d.action != submitAbandon {
			t.Fatalf("action = %v, want abandon", d.action)
		}
	})

	t.Run("no deadline ignores the flag", func(t *testing.T) {
		settings := settingsWith(nil, models.OverdueAutoSubmit, 0)
		d := computeSubmit(models.AttemptInProgress, settings, baseTime, false, true)
		if d.action != submitRecord {
			t.Fatalf("action = %v, want record", d.action)
		}
	})
}

func TestComputeSubmitRouting(t *testing.T) {
	deadline := baseTime
	grace := 10 * time.Minute

	t.Run("in time records the page", func(t *testing.T) {
		later := baseTime.Add(time.Hour)
		settings := settingsWith(&later, models.OverdueAutoSubmit, 0)
		d := computeSubmit(models.AttemptInProgress, settings, baseTime, false, false)
		if d.action != submitRecord {
			t.Fatalf("action = %v, want record", d.action)
		}
	})

	t.Run("overdue attempt ignores a non-closing submission", func(t *testing.T) {
		settings := settingsWith(&deadline, models.OverdueGracePeriod, grace)
		d := computeSubmit(models.AttemptOverdue, settings, baseTime.Add(time.Minute), false, false)
		if d.action != submitIgnore {
			t.Fatalf("action = %v, want ignore", d.action)
		}
	})

	t.Run("too-late page submission goes overdue", func(t *testing.T) {
		settings := settingsWith(&deadline, models.OverdueGracePeriod, grace)
		now := baseTime.Add(grace + minimumGracePeriod + time.Second)
		d := computeSubmit(models.AttemptInProgress, settings, now, false, false)
		if d.action != submitOverdue {
			t.Fatalf("action = %v, want overdue", d.action)
		}
		if d.nextCheck == nil || !d.nextCheck.Equal(deadline.Add(grace)) {
			t.Errorf("nextCheck = %v, want end of grace", d.nextCheck)
		}
	})

	t.Run("too-late closing submission abandons", func(t *testing.T) {
		settings := settingsWith(&deadline, models.OverdueAutoSubmit, 0)
		now := baseTime.Add(minimumGracePeriod + time.Second)
		d := computeSubmit(models.AttemptInProgress, settings, now, true, false)
		if d.action != submitAbandon {
			t.Fatalf("action = %v, want abandon", d.action)
		}
	})

	t.Run("closing submission within the allowance finishes", func(t *testing.T) {
		settings := settingsWith(&deadline, models.OverdueAutoSubmit, 0)
		d := computeSubmit(models.AttemptInProgress, settings, baseTime.Add(time.Second), true, false)
		if d.action != submitFinish {
			t.Fatalf("action = %v, want finish", d.action)
		}
	})
}

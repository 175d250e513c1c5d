package services

import (
	"time"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
)

// minimumGracePeriod is the slack added on top of the configured grace
// period before a user submission is treated as too late to count. It
// absorbs clock skew and slow uploads.
const minimumGracePeriod = 60 * time.Second

// deadlineSettings is the fully resolved timing for one attempt: overrides
// applied, time limit folded in.
type deadlineSettings struct {
	// deadline is the instant the attempt must be completed by; nil means
	// the attempt is not time-constrained (previews, open assessments).
	deadline *time.Time
	grace    time.Duration
	policy   models.OverdueHandling
}

func (d deadlineSettings) tooLate(now time.Time) bool {
	if d.deadline == nil {
		return false
	}
	return now.After(d.deadline.Add(d.grace).Add(minimumGracePeriod))
}

// resolveTimingOverrides folds assessment overrides into the effective close
// time and time limit for a user. A personal override wins outright per
// field; otherwise the most generous group override applies (latest close,
// longest limit).
func resolveTimingOverrides(assessment *models.Assessment, overrides []*models.AssessmentOverride, userID string) (*time.Time, int) {
	timeClose := assessment.TimeClose
	timeLimit := assessment.TimeLimit

	var groupClose *time.Time
	groupLimit := -1
	for _, o := range overrides {
		if o.UserID != nil && *o.UserID == userID {
			if o.TimeClose != nil {
				timeClose = o.TimeClose
			}
			if o.TimeLimit != nil {
				timeLimit = *o.TimeLimit
			}
			return timeClose, timeLimit
		}
		if o.GroupID == nil {
			continue
		}
		if o.TimeClose != nil && (groupClose == nil || o.TimeClose.After(*groupClose)) {
			groupClose = o.TimeClose
		}
		if o.TimeLimit != nil && *o.TimeLimit > groupLimit {
			groupLimit = *o.TimeLimit
		}
	}
	if groupClose != nil {
		timeClose = groupClose
	}
	if groupLimit >= 0 {
		timeLimit = groupLimit
	}
	return timeClose, timeLimit
}

// computeDeadline derives the attempt deadline from the effective close time
// and time limit: whichever comes first. Previews run without a deadline.
func computeDeadline(startedAt time.Time, timeClose *time.Time, timeLimit int, isPreview bool) *time.Time {
	if isPreview {
		return nil
	}
	var deadline *time.Time
	if timeClose != nil {
		t := *timeClose
		deadline = &t
	}
	if timeLimit > 0 {
		limitEnd := startedAt.Add(time.Duration(timeLimit) * time.Second)
		if deadline == nil || limitEnd.Before(*deadline) {
			deadline = &limitEnd
		}
	}
	return deadline
}

// ===== Timing decision =====

type transitionAction int

const (
	// actionNone: nothing due, no check to schedule.
	actionNone transitionAction = iota
	// actionReschedule: nothing due yet, a check is due at nextCheck.
	actionReschedule
	actionOverdue
	actionFinish
	actionAbandon
)

type timingDecision struct {
	action    transitionAction
	nextCheck *time.Time
	// finishTime is the value recorded as finished_at for actionFinish.
	finishTime time.Time
}

// computeTimeCheck decides what, if anything, must happen to an attempt at
// time now given its resolved deadline settings. Pure: callers apply the
// decision and persist. userActive distinguishes a live submission (finish
// stamped at now) from a background sweep (finish stamped at the deadline
// the user actually had).
func computeTimeCheck(state models.AttemptState, settings deadlineSettings, now time.Time, userActive bool) timingDecision {
	if state.IsTerminal() || settings.deadline == nil {
		return timingDecision{action: actionNone}
	}
	deadline := *settings.deadline
	graceEnd := deadline.Add(settings.grace)

	switch state {
	case models.AttemptInProgress:
		if now.Before(deadline) {
			return timingDecision{action: actionReschedule, nextCheck: &deadline}
		}
		switch settings.policy {
		case models.OverdueAutoSubmit:
			finishTime := deadline
			if userActive {
				finishTime = now
			}
			return timingDecision{action: actionFinish, finishTime: finishTime}
		case models.OverdueGracePeriod:
			if now.Before(graceEnd) {
				return timingDecision{action: actionOverdue, nextCheck: &graceEnd}
			}
			return timingDecision{action: actionAbandon}
		default: // autoabandon
			return timingDecision{action: actionAbandon}
		}

	case models.AttemptOverdue:
		if now.Before(graceEnd) {
			return timingDecision{action: actionReschedule, nextCheck: &graceEnd}
		}
		return timingDecision{action: actionAbandon}
	}
	return timingDecision{action: actionNone}
}

// ===== Submission routing =====

type submitAction int

const (
	// submitRecord: count the page, the attempt stays in progress.
	submitRecord submitAction = iota
	// submitIgnore: an overdue attempt only accepts a closing submission;
	// anything else returns the state unchanged.
	submitIgnore
	submitFinish
	submitAbandon
	submitOverdue
)

type submitDecision struct {
	action submitAction
	// nextCheck is the grace end recorded as time_check for submitOverdue.
	nextCheck *time.Time
}

// computeSubmit routes one page submission given the attempt's state and its
// resolved timing. finish is the caller's intent to close the attempt; timeUp
// marks a client-reported timer expiry, resolved through the overdue policy:
// autosubmit closes the attempt, graceperiod parks it overdue until the grace
// runs out, autoabandon drops it. Pure: SubmitPage applies the decision under
// the row lock.
func computeSubmit(state models.AttemptState, settings deadlineSettings, now time.Time, finish, timeUp bool) submitDecision {
	if timeUp && settings.deadline != nil {
		switch settings.policy {
		case models.OverdueAutoSubmit:
			finish = true
		case models.OverdueGracePeriod:
			if !finish && state == models.AttemptInProgress {
				graceEnd := settings.deadline.Add(settings.grace)
				return submitDecision{action: submitOverdue, nextCheck: &graceEnd}
			}
		default: // autoabandon
			return submitDecision{action: submitAbandon}
		}
	}

	if !finish {
		if state == models.AttemptOverdue {
			return submitDecision{action: submitIgnore}
		}
		if settings.tooLate(now) {
			graceEnd := now
			if settings.deadline != nil {
				graceEnd = settings.deadline.Add(settings.grace)
			}
			return submitDecision{action: submitOverdue, nextCheck: &graceEnd}
		}
		return submitDecision{action: submitRecord}
	}

	if settings.tooLate(now) {
		// The closing submission arrived after every allowance; the work no
		// longer counts.
		return submitDecision{action: submitAbandon}
	}
	return submitDecision{action: submitFinish}
}

// ===== Transition application =====

func applyOverdue(a *models.Attempt, now time.Time, nextCheck *time.Time) {
	a.State = models.AttemptOverdue
	a.TimeModified = now
	a.TimeCheck = nextCheck
}

// applyFinish moves the attempt to finished. finishedAt may legitimately lie
// in the past when an autosubmit is applied by the sweep.
func applyFinish(a *models.Attempt, now, finishedAt time.Time) error {
	if a.State.IsTerminal() {
		return ErrAttemptAlreadyFinalized
	}
	a.State = models.AttemptFinished
	a.FinishedAt = &finishedAt
	a.TimeModified = now
	a.TimeCheck = nil
	return nil
}

// applyAbandon moves the attempt to abandoned. Abandoned attempts never get
// a finish time: the user walked away, nothing was completed.
func applyAbandon(a *models.Attempt, now time.Time) error {
	if a.State.IsTerminal() {
		return ErrAttemptAlreadyFinalized
	}
	a.State = models.AttemptAbandoned
	a.FinishedAt = nil
	a.TimeModified = now
	a.TimeCheck = nil
	return nil
}

// aggregateGrade computes the user's final grade over their finished
// attempts, ordered by attempt number ascending.
func aggregateGrade(method models.GradeMethod, attempts []*models.Attempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	switch method {
	case models.GradeAverage:
		var sum float64
		for _, a := range attempts {
			sum += a.SumGrades
		}
		return sum / float64(len(attempts))
	case models.GradeFirst:
		return attempts[0].SumGrades
	case models.GradeLast:
		return attempts[len(attempts)-1].SumGrades
	default: // highest
		best := attempts[0].SumGrades
		for _, a := range attempts[1:] {
			if a.SumGrades > best {
				best = a.SumGrades
			}
		}
		return best
	}
}

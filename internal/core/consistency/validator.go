// Package consistency compares the primary store with the realtime mirror, classifies
// drift by severity and, in FIX mode, rewrites the mirror from the primary record.
// The primary store is only ever read.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"attendance.service/internal/core/model"
	"attendance.service/internal/core/timerules"
	"attendance.service/internal/ports/mirror"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PrimaryReader is the read-only slice of the primary store the validator needs.
type PrimaryReader interface {
	Get(ctx context.Context, userID, dateKey string) (*model.AttendanceSession, error)
	ListByDate(ctx context.Context, dateKey string) ([]model.AttendanceSession, error)
}

// Alerter is told about runs that produced HIGH findings.
type Alerter interface {
	NotifyDrift(ctx context.Context, report Report) error
}

type Validator struct {
	primary PrimaryReader
	mirror  mirror.Store
	alerter Alerter
	loc     *time.Location
	now     func() time.Time

	findings metric.Int64Counter
}

// NewValidator builds a validator. loc decides what "today" is; alerter may be nil.
func NewValidator(primary PrimaryReader, store mirror.Store, alerter Alerter, loc *time.Location) *Validator {
	findings, _ := otel.Meter("attendance.service/consistency").Int64Counter("consistency.findings",
		metric.WithDescription("Drift findings by severity"))
	return &Validator{
		primary:  primary,
		mirror:   store,
		alerter:  alerter,
		loc:      loc,
		now:      time.Now,
		findings: findings,
	}
}

// WithClock replaces the wall clock, for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Run validates dateKey (today when empty). On cancellation it returns the partial report
// together with the context error.
func (v *Validator) Run(ctx context.Context, mode Mode, dateKey string) (Report, error) {
	if dateKey == "" {
		dateKey = timerules.DateKey(v.now(), v.loc)
	}
	report := Report{
		Mode:      mode,
		DateKey:   dateKey,
		StartedAt: v.now().UTC(),
		Findings:  []Finding{},
		Repairs:   []Repair{},
	}

	previousKey, err := timerules.PreviousDateKey(dateKey)
	if err != nil {
		return report, err
	}
	sessions, err := v.primary.ListByDate(ctx, dateKey)
	if err != nil {
		return report, fmt.Errorf("failed to list primary sessions: %w", err)
	}
	carried, err := v.primary.ListByDate(ctx, previousKey)
	if err != nil {
		return report, fmt.Errorf("failed to list primary sessions: %w", err)
	}
	snaps, err := v.mirror.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list mirror snapshots: %w", err)
	}

	// Sessions left open overnight are still live today unless the user already started a new one.
	primaryByUser := make(map[string]model.AttendanceSession, len(sessions))
	for _, s := range sessions {
		primaryByUser[s.UserID] = s
	}
	for _, s := range carried {
		if _, ok := primaryByUser[s.UserID]; !ok && s.Status.Active() {
			primaryByUser[s.UserID] = s
		}
	}
	mirrorByUser := make(map[string]model.MirrorSnapshot, len(snaps))
	for _, s := range snaps {
		mirrorByUser[s.UserID] = s
	}

	users := make([]string, 0, len(primaryByUser)+len(mirrorByUser))
	for u := range primaryByUser {
		users = append(users, u)
	}
	for u := range mirrorByUser {
		if _, ok := primaryByUser[u]; !ok {
			users = append(users, u)
		}
	}
	sort.Strings(users)

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			report.FinishedAt = v.now().UTC()
			v.record(ctx, report)
			return report, err
		}

		primary, inPrimary := primaryByUser[userID]
		snap, inMirror := mirrorByUser[userID]
		// A mirror entry for a later day is the mirror correctly tracking a newer session.
		if inMirror && snap.DateKey > dateKey {
			continue
		}

		switch {
		case inPrimary && inMirror && snap.DateKey == primary.DateKey:
			v.compare(ctx, mode, &report, primary, snap)

		case inPrimary && (!inMirror || snap.DateKey < primary.DateKey):
			f := Finding{Code: CodeMissingInMirror, UserID: userID, DateKey: primary.DateKey, Severity: SeverityHigh,
				Message: fmt.Sprintf("active %s session has no live status", primary.Status)}
			if primary.Status == model.StatusCheckedOut {
				f.Severity = SeverityLow
				f.Message = "checked-out session has no live status"
			}
			report.add(f)
			if mode == ModeFix {
				report.repaired(v.publish(ctx, primary))
			}

		case snap.DateKey == dateKey:
			report.add(missingInPrimary(snap))

		default:
			if err := v.checkEarlier(ctx, mode, &report, snap); err != nil {
				return report, err
			}
		}
	}

	report.FinishedAt = v.now().UTC()
	v.record(ctx, report)
	v.alert(ctx, report)
	return report, nil
}

// checkEarlier resolves a snapshot left over from an earlier day against that day's primary record.
func (v *Validator) checkEarlier(ctx context.Context, mode Mode, report *Report, snap model.MirrorSnapshot) error {
	s, err := v.primary.Get(ctx, snap.UserID, snap.DateKey)
	if errors.Is(err, model.ErrSessionNotFound) {
		report.add(missingInPrimary(snap))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get primary session: %w", err)
	}
	if v.compare(ctx, mode, report, *s, snap) {
		return nil
	}
	report.add(Finding{Code: CodeStaleDay, UserID: snap.UserID, DateKey: snap.DateKey, Severity: SeverityLow,
		Message: fmt.Sprintf("live status still shows %s from %s", snap.Status, snap.DateKey)})
	return nil
}

// compare records a MISMATCH when snap disagrees with s and repairs it in FIX mode.
// It reports whether a mismatch was found.
func (v *Validator) compare(ctx context.Context, mode Mode, report *Report, s model.AttendanceSession, snap model.MirrorSnapshot) bool {
	fields := diff(s, snap)
	if len(fields) == 0 {
		return false
	}
	report.add(Finding{Code: CodeMismatch, UserID: s.UserID, DateKey: s.DateKey, Severity: SeverityMedium,
		Message: "mirror disagrees with primary on " + strings.Join(fields, ", "), Fields: fields})
	if mode == ModeFix {
		if snap.SourceVersion > s.Version {
			report.repaired(v.replace(ctx, s))
		} else {
			report.repaired(v.publish(ctx, s))
		}
	}
	return true
}

func missingInPrimary(snap model.MirrorSnapshot) Finding {
	return Finding{Code: CodeMissingInPrimary, UserID: snap.UserID, DateKey: snap.DateKey, Severity: SeverityHigh,
		Message: fmt.Sprintf("mirror shows %s but the primary store has no session; investigate manually", snap.Status)}
}

// Watch runs the validator immediately and then every interval until ctx is done.
func (v *Validator) Watch(ctx context.Context, mode Mode, interval time.Duration, onReport func(Report)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := v.Run(ctx, mode, "")
		switch {
		case err != nil && ctx.Err() == nil:
			log.Ctx(ctx).Error().Err(err).Msg("Consistency run failed")
		case err == nil && onReport != nil:
			onReport(report)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (v *Validator) publish(ctx context.Context, s model.AttendanceSession) Repair {
	rep := Repair{UserID: s.UserID, Action: "publish"}
	applied, err := v.mirror.Publish(ctx, model.SnapshotFromSession(s))
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	if !applied {
		// A newer write landed in the mirror after the primary was read.
		rep.Action = "publish-superseded"
	}
	rep.Success = true
	return rep
}

func (v *Validator) replace(ctx context.Context, s model.AttendanceSession) Repair {
	rep := Repair{UserID: s.UserID, Action: "replace"}
	if err := v.mirror.Replace(ctx, model.SnapshotFromSession(s)); err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Success = true
	return rep
}

func (v *Validator) record(ctx context.Context, report Report) {
	for sev, n := range map[Severity]int{SeverityHigh: report.Summary.High, SeverityMedium: report.Summary.Medium, SeverityLow: report.Summary.Low} {
		if n > 0 {
			v.findings.Add(ctx, int64(n), metric.WithAttributes(attribute.String("severity", string(sev))))
		}
	}
	log.Ctx(ctx).Info().
		Str("mode", string(report.Mode)).
		Str("date_key", report.DateKey).
		Int("high", report.Summary.High).
		Int("medium", report.Summary.Medium).
		Int("low", report.Summary.Low).
		Int("repaired", report.Summary.Repaired).
		Int("repair_failures", report.Summary.Failed).
		Bool("cancelled", report.Cancelled).
		Msg("Consistency run finished")
}

func (v *Validator) alert(ctx context.Context, report Report) {
	if v.alerter == nil || report.Summary.High == 0 {
		return
	}
	if err := v.alerter.NotifyDrift(ctx, report); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to send drift alert")
	}
}

// diff compares the fields the mirror carries. Times are compared at millisecond precision.
func diff(s model.AttendanceSession, snap model.MirrorSnapshot) []string {
	want := model.SnapshotFromSession(s)
	var fields []string
	if want.Status != snap.Status {
		fields = append(fields, "status")
	}
	if !sameTime(want.CheckInTime, snap.CheckInTime) {
		fields = append(fields, "checkInTime")
	}
	if !sameTime(want.CheckOutTime, snap.CheckOutTime) {
		fields = append(fields, "checkOutTime")
	}
	if want.SourceVersion != snap.SourceVersion {
		fields = append(fields, "sourceVersion")
	}
	return fields
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

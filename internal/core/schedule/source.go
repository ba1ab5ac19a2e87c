// Package schedule supplies the work schedule that time rules are evaluated against.
// Sources read external settings; the Provider caches what they return.
package schedule

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"attendance.service/internal/core/model"
	"gopkg.in/yaml.v3"
)

// Source is the external settings collaborator. An empty userID asks for the org default.
type Source interface {
	GetActiveSchedule(ctx context.Context, userID string) (model.ScheduleConfig, error)
}

// StaticSource hands out the same schedule for everybody.
type StaticSource struct {
	Config model.ScheduleConfig
}

func (s StaticSource) GetActiveSchedule(_ context.Context, _ string) (model.ScheduleConfig, error) {
	return s.Config, nil
}

// scheduleDoc is one layer of the settings file. Unset fields inherit from the layer below.
type scheduleDoc struct {
	StartTime            *string  `yaml:"startTime"`
	EndTime              *string  `yaml:"endTime"`
	GracePeriodMinutes   *int     `yaml:"gracePeriodMinutes"`
	LateThresholdMinutes *int     `yaml:"lateThresholdMinutes"`
	BreakDurationMinutes *int     `yaml:"breakDurationMinutes"`
	WorkDays             []string `yaml:"workDays"`
}

type settingsFile struct {
	Timezone    string                 `yaml:"timezone"`
	Default     scheduleDoc            `yaml:"default"`
	Departments map[string]scheduleDoc `yaml:"departments"`
	Users       map[string]scheduleDoc `yaml:"users"`
	// Members maps a user to a department.
	Members map[string]string `yaml:"members"`
}

// FileSource reads schedules from a YAML settings file on every call:
//
//	timezone: Asia/Jakarta
//	default: {startTime: "09:00", endTime: "17:00", gracePeriodMinutes: 15, workDays: [mon, tue, wed, thu, fri]}
//	departments:
//	  warehouse: {startTime: "07:00", endTime: "15:00"}
//	members: {u-17: warehouse}
//	users:
//	  u-42: {gracePeriodMinutes: 30}
type FileSource struct {
	Path string
	// Fallback is used for the timezone and any field the file leaves out.
	Fallback model.ScheduleConfig
}

func NewFileSource(path string, fallback model.ScheduleConfig) *FileSource {
	return &FileSource{Path: path, Fallback: fallback}
}

// Open returns the FileSource for path, or a StaticSource of the default schedule when path is empty.
// The file's org timezone must be loc: loc is what every "today" outside a session is computed in.
func Open(ctx context.Context, path string, loc *time.Location) (Source, error) {
	fallback := model.DefaultSchedule(loc)
	if path == "" {
		return StaticSource{Config: fallback}, nil
	}
	src := NewFileSource(path, fallback)
	org, err := src.GetActiveSchedule(ctx, "")
	if err != nil {
		return nil, err
	}
	if got := org.Loc().String(); got != loc.String() {
		return nil, fmt.Errorf("schedule file timezone %q does not match ORG_TIMEZONE %q", got, loc.String())
	}
	return src, nil
}

func (s *FileSource) GetActiveSchedule(_ context.Context, userID string) (model.ScheduleConfig, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return model.ScheduleConfig{}, fmt.Errorf("failed to read schedule file: %w", err)
	}
	return resolve(raw, userID, s.Fallback)
}

func resolve(raw []byte, userID string, fallback model.ScheduleConfig) (model.ScheduleConfig, error) {
	var file settingsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return model.ScheduleConfig{}, fmt.Errorf("failed to parse schedule file: %w", err)
	}

	cfg := fallback
	cfg.WorkDays = copyWorkDays(fallback.WorkDays)
	if file.Timezone != "" {
		loc, err := time.LoadLocation(file.Timezone)
		if err != nil {
			return model.ScheduleConfig{}, fmt.Errorf("invalid schedule timezone %q: %w", file.Timezone, err)
		}
		cfg.Location = loc
	}

	layers := []scheduleDoc{file.Default}
	if userID != "" {
		if dept, ok := file.Members[userID]; ok {
			if doc, ok := file.Departments[dept]; ok {
				layers = append(layers, doc)
			}
		}
		if doc, ok := file.Users[userID]; ok {
			layers = append(layers, doc)
		}
	}
	for _, doc := range layers {
		if err := doc.apply(&cfg); err != nil {
			return model.ScheduleConfig{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return model.ScheduleConfig{}, fmt.Errorf("schedule for %q: %w", userID, err)
	}
	return cfg, nil
}

func (d scheduleDoc) apply(cfg *model.ScheduleConfig) error {
	if d.StartTime != nil {
		t, err := model.ParseClockTime(*d.StartTime)
		if err != nil {
			return err
		}
		cfg.StartTime = t
	}
	if d.EndTime != nil {
		t, err := model.ParseClockTime(*d.EndTime)
		if err != nil {
			return err
		}
		cfg.EndTime = t
	}
	if d.GracePeriodMinutes != nil {
		cfg.GracePeriodMinutes = *d.GracePeriodMinutes
	}
	if d.LateThresholdMinutes != nil {
		cfg.LateThresholdMinutes = *d.LateThresholdMinutes
	}
	if d.BreakDurationMinutes != nil {
		cfg.BreakDurationMinutes = *d.BreakDurationMinutes
	}
	if d.WorkDays != nil {
		days, err := parseWorkDays(d.WorkDays)
		if err != nil {
			return err
		}
		cfg.WorkDays = days
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWorkDays(names []string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if len(n) > 3 {
			n = n[:3]
		}
		d, ok := weekdays[n]
		if !ok {
			return nil, fmt.Errorf("unknown work day %q", name)
		}
		days[d] = true
	}
	return days, nil
}

func copyWorkDays(in map[time.Weekday]bool) map[time.Weekday]bool {
	out := make(map[time.Weekday]bool, len(in))
	for d, ok := range in {
		out[d] = ok
	}
	return out
}

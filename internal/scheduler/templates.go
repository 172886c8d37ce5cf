package scheduler

import (
	"context"
	"fmt"
	"sort"

	"contentbot/internal/content"
)

// Template is a named discipline preset.
type Template struct {
	Name        string
	Discipline  content.Discipline
	Config      content.Params
	Description string
}

// Weekdays follow time.Weekday (Sunday=0), so Monday is 1.
var templates = map[string]Template{
	"daily_morning": {
		Name: "daily_morning", Discipline: content.Cron,
		Config:      content.Params{"hour": 9, "minute": 0},
		Description: "Daily at 09:00",
	},
	"daily_evening": {
		Name: "daily_evening", Discipline: content.Cron,
		Config:      content.Params{"hour": 18, "minute": 0},
		Description: "Daily at 18:00",
	},
	"weekly_monday": {
		Name: "weekly_monday", Discipline: content.Cron,
		Config:      content.Params{"day_of_week": 1, "hour": 10, "minute": 0},
		Description: "Every Monday at 10:00",
	},
	"hourly": {
		Name: "hourly", Discipline: content.Interval,
		Config:      content.Params{"hours": 1},
		Description: "Every hour",
	},
	"every_15_minutes": {
		Name: "every_15_minutes", Discipline: content.Interval,
		Config:      content.Params{"minutes": 15},
		Description: "Every 15 minutes",
	},
}

// Templates lists the presets sorted by name.
func Templates() []Template {
	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		t.Config = t.Config.Clone()
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func LookupTemplate(name string) (Template, bool) {
	t, ok := templates[name]
	if ok {
		t.Config = t.Config.Clone()
	}
	return t, ok
}

// ScheduleFromTemplate schedules kind for destinationID with a preset discipline.
func (s *Service) ScheduleFromTemplate(ctx context.Context, template string, kind content.Kind, destinationID int64, data content.Params, maxRuns int) (string, error) {
	t, ok := LookupTemplate(template)
	if !ok {
		return "", &content.ConfigError{Field: "template", Reason: fmt.Sprintf("unknown template %q", template)}
	}
	return s.Schedule(ctx, Request{
		Kind:          kind,
		DestinationID: destinationID,
		Data:          data,
		Discipline:    t.Discipline,
		Config:        t.Config,
		MaxRuns:       maxRuns,
		Metadata:      content.Params{"template": t.Name},
	})
}

// ScheduleNewsDigest defaults to daily_morning over general/technology/science.
func (s *Service) ScheduleNewsDigest(ctx context.Context, destinationID int64, template string, categories []string) (string, error) {
	if template == "" {
		template = "daily_morning"
	}
	if len(categories) == 0 {
		categories = []string{"general", "technology", "science"}
	}
	return s.ScheduleFromTemplate(ctx, template, content.KindNews, destinationID, content.Params{
		"action":          "send_news_digest",
		"categories":      categories,
		"max_articles":    5,
		"include_summary": true,
	}, 0)
}

func (s *Service) ScheduleDailyQuiz(ctx context.Context, destinationID int64, template, difficulty string) (string, error) {
	if template == "" {
		template = "daily_morning"
	}
	if difficulty == "" {
		difficulty = "medium"
	}
	return s.ScheduleFromTemplate(ctx, template, content.KindQuiz, destinationID, content.Params{
		"action":        "send_daily_quiz",
		"difficulty":    difficulty,
		"category":      "general",
		"max_questions": 3,
	}, 0)
}

func (s *Service) ScheduleDebateTopic(ctx context.Context, destinationID int64, template, category string) (string, error) {
	if template == "" {
		template = "weekly_monday"
	}
	if category == "" {
		category = "technology"
	}
	return s.ScheduleFromTemplate(ctx, template, content.KindDebate, destinationID, content.Params{
		"action":           "start_debate",
		"topic_category":   category,
		"max_participants": 4,
		"max_turns":        6,
	}, 0)
}

func (s *Service) ScheduleFunContent(ctx context.Context, destinationID int64, template string, kinds []string) (string, error) {
	if template == "" {
		template = "every_15_minutes"
	}
	if len(kinds) == 0 {
		kinds = []string{"joke", "fact", "riddle"}
	}
	return s.ScheduleFromTemplate(ctx, template, content.KindFun, destinationID, content.Params{
		"action":        "send_fun_content",
		"content_types": kinds,
		"max_content":   2,
	}, 0)
}

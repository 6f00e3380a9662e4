package channels

import (
	"time"

	"github.com/tinyland-inc/craig/pkg/config"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/matchmaking"
)

// newController builds the matchmaking engine for one channel, or returns nil
// when matchmaking is disabled. Session keys are platform message ids, so
// every channel owns its own store.
func newController(
	channel string,
	cfg config.MatchmakingConfig,
	notifier matchmaking.Notifier,
	joinReaction, guideReaction string,
) *matchmaking.Controller {
	if !cfg.Enabled {
		return nil
	}

	store := matchmaking.NewStore(matchmaking.StoreOptions{
		MaxSessions:   cfg.MaxSessions,
		TTL:           time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		SweepSchedule: cfg.SweepSchedule,
		OnEvict: func(s matchmaking.Session, reason matchmaking.EvictReason) {
			logger.DebugCF(channel, "Matchmaking session dropped before completion", map[string]any{
				"anchor":   s.Key,
				"activity": s.Activity,
				"reason":   string(reason),
			})
		},
	})

	templates := make([]matchmaking.Template, 0, len(cfg.Commands))
	for _, cmd := range cfg.Commands {
		templates = append(templates, matchmaking.Template{
			Command:       cmd.CommandName(),
			RequiredCount: cmd.RequiredCount,
			Role:          cmd.Role,
			Activity:      cmd.Activity,
		})
	}

	return matchmaking.NewController(store, notifier, matchmaking.ControllerOptions{
		JoinReaction:     joinReaction,
		GuideReaction:    guideReaction,
		MaxRequiredCount: cfg.MaxRequiredCount,
		Templates:        templates,
	})
}

// Package app assembles the chat service from configuration for the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
	"github.com/zhouzirui/talkbox/backend/internal/clock"
	"github.com/zhouzirui/talkbox/backend/internal/config"
	"github.com/zhouzirui/talkbox/backend/internal/model/profile"
	"github.com/zhouzirui/talkbox/backend/internal/service/bot"
	chatService "github.com/zhouzirui/talkbox/backend/internal/service/chat"
)

// Components are the shared services behind every front end.
type Components struct {
	Profiles profile.Store
	Chat     *chatService.Service
	Profile  profile.Profile
}

// Build wires the reply selector, bot chain and chat service. sched may be nil
// for the wall clock.
func Build(ctx context.Context, cfg config.BotConfig, sched clock.Scheduler) (*Components, error) {
	if sched == nil {
		sched = clock.Real()
	}

	seeds := profile.Seed()
	found := false
	for i := range seeds {
		if seeds[i].ID == cfg.ProfileID {
			seeds[i] = seeds[i].WithGreetings(cfg.Greetings)
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown bot profile %q", cfg.ProfileID)
	}
	profiles := profile.NewMemoryStore(seeds)
	active, _ := profiles.FindByID(cfg.ProfileID)

	selector := reply.New(reply.WithFallbacks(cfg.Fallbacks), reply.WithClock(sched.Now))
	replier, err := bot.NewService(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise bot: %w", err)
	}

	chatSvc := chatService.NewService(profiles, replier,
		chatService.WithContext(ctx),
		chatService.WithScheduler(sched),
		chatService.WithDelay(chatService.Delay{Min: cfg.DelayMin, Max: cfg.DelayMax}),
	)

	return &Components{Profiles: profiles, Chat: chatSvc, Profile: active}, nil
}

package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// voiceLookupTimeout bounds the voice listing done at startup.
const voiceLookupTimeout = 10 * time.Second

// ResolveVoices fills in the voice_id of every role that names a voice but
// leaves the id empty, matching the name case-insensitively against the
// voices p offers. Roles that cannot be resolved keep an empty id and the
// provider's default voice.
//
// p is asked at most once, and only when a role needs resolving.
func ResolveVoices(ctx context.Context, p tts.Provider, vc config.VoicesConfig) config.VoicesConfig {
	roles := []struct {
		name string
		v    *config.VoiceConfig
	}{
		{"npc", &vc.NPC},
		{"player", &vc.Player},
	}

	var (
		listed bool
		voices []tts.Voice
	)
	for _, r := range roles {
		if r.v.VoiceID != "" || r.v.Name == "" {
			continue
		}
		if !listed {
			listed = true
			lctx, cancel := context.WithTimeout(ctx, voiceLookupTimeout)
			var err error
			voices, err = p.ListVoices(lctx)
			cancel()
			if err != nil {
				slog.Warn("voice lookup failed; unresolved roles use the provider default voice", "err", err)
				return vc
			}
		}
		v, ok := findVoice(voices, r.v.Name)
		if !ok {
			slog.Warn("no provider voice matches the configured name",
				"role", r.name,
				"name", r.v.Name,
				"available", len(voices),
			)
			continue
		}
		r.v.VoiceID = v.ID
		slog.Info("voice resolved", "role", r.name, "name", r.v.Name, "voice_id", v.ID, "provider", v.Provider)
	}
	return vc
}

func findVoice(voices []tts.Voice, name string) (tts.Voice, bool) {
	for _, v := range voices {
		if strings.EqualFold(strings.TrimSpace(v.Name), strings.TrimSpace(name)) {
			return v, true
		}
	}
	return tts.Voice{}, false
}

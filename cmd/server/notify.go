package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/transport/notify"
)

// buildNotifier returns nil unless CF_REDIS_ADDR is set. An unreachable
// Redis disables publishing instead of failing startup.
func buildNotifier(logger *log.Logger) *notify.Publisher {
	addr := strings.TrimSpace(os.Getenv("CF_REDIS_ADDR"))
	if addr == "" {
		return nil
	}
	var kinds []shaping.EventKind
	for _, k := range strings.Split(os.Getenv("CF_REDIS_KINDS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, shaping.EventKind(k))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p, err := notify.Dial(ctx, notify.Options{
		Addr:    addr,
		Channel: strings.TrimSpace(os.Getenv("CF_REDIS_CHANNEL")),
		Kinds:   kinds,
		Logger:  logger,
	})
	if err != nil {
		logger.Printf("redis unavailable; event publishing disabled: %v", err)
		return nil
	}
	return p
}

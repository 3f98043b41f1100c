package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Post audit appends (every social post attempt)
//   - Career baseline snapshots (so game-day restarts skip re-fetching
//     the stats source for every roster player)

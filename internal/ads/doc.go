// Package ads holds the advertisement broadcast domain model: advertisements
// with their campaign state machine, bots (messaging-provider accounts),
// media references with a precomputed transport kind, and the append-only
// per-(campaign, bot) broadcast outcome records.
package ads

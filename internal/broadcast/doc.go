// Package broadcast is the campaign orchestration engine.
//
// One campaign is the broadcast of a single advertisement to its resolved
// target bots. The orchestrator fans out into per-bot dispatchers, each of
// which resolves the bot's recipients and drives the delivery adapter over
// them with bounded concurrency.
//
// Failure isolation is layered: a failed send to one recipient (or one
// media item) is counted and absorbed by the dispatcher; a bot whose whole
// dispatch fails is recorded in the campaign result without aborting
// sibling bots; only orchestration-level failures reach the task engine's
// retry policy.
//
// Delivery is at-least-once. Exactness lives in the outcome records: every
// completed bot dispatch appends exactly one immutable BroadcastOutcome,
// and the campaign's terminal status is derived from those counts only
// after every dispatch has finished.
package broadcast

package ads

import "time"

// BroadcastOutcome is the immutable per-(campaign, bot) delivery count
// record. Exactly one is appended when a bot's dispatch completes; it is
// never mutated afterwards. It references the advertisement and bot by id
// only, so metrics survive deletion of either.
type BroadcastOutcome struct {
	AdID            int64
	BotID           int64
	TotalRecipients int
	Successful      int
	Failed          int
	At              time.Time
}

// BotDispatchError records a bot whose dispatch failed as a whole (the
// dispatch threw before an outcome could be recorded).
type BotDispatchError struct {
	BotID int64  `json:"bot_id"`
	Error string `json:"error"`
}

// CampaignResult is the derived bot-level aggregate of one campaign run.
// It is computed by the orchestrator and never persisted as its own entity.
type CampaignResult struct {
	TotalBots  int                `json:"total_bots"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Errors     []BotDispatchError `json:"errors,omitempty"`
}

// OutcomeTotals is the recipient-level fold of a campaign's outcome records.
// Folding is commutative: the totals do not depend on record order.
type OutcomeTotals struct {
	Bots            int `json:"bots"`
	TotalRecipients int `json:"total_recipients"`
	Successful      int `json:"successful"`
	Failed          int `json:"failed"`
}

// FoldOutcomes sums outcome records into campaign totals.
func FoldOutcomes(outs []BroadcastOutcome) OutcomeTotals {
	var t OutcomeTotals
	for _, o := range outs {
		t.Bots++
		t.TotalRecipients += o.TotalRecipients
		t.Successful += o.Successful
		t.Failed += o.Failed
	}
	return t
}

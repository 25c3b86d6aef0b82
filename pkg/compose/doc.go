// Package compose fits an unbounded run history into a bounded prompt
// context.
//
// Generated stories quickly outgrow any context window: every drafted
// scene adds text, and revision loops rewrite scenes many times. This
// package provides the two pieces that keep prompts bounded without
// losing safety-critical information:
//
//   - Summarizer compresses scene content hierarchically. Each scene
//     gets a cached summary; once enough un-archived scene summaries
//     accumulate they are folded into one batch summary. Compression
//     uses an injected backend call and degrades to a deterministic
//     first/middle/last-sentence fallback on any failure, so a flaky
//     compressor can never fail a run.
//
//   - Assembler builds the context payload for the current scene inside
//     a declared token budget, in a fixed order: established constraints
//     from the fact store, archived batch summaries, recent scene
//     summaries, the current scene's outline, relevant entities, then
//     world and style context.
//
// The constraint block is special: it is always included when
// non-empty, regardless of remaining budget. Constraints record facts
// that later scenes must not contradict, and silently dropping them is
// exactly the drift this package exists to prevent.
//
// Token counts are estimated (word count times 1.3), so the budget is
// approximate by design; the reserves leave headroom for the system
// prompt, model output, and the current scene's own text.
package compose

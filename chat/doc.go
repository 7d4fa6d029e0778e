// Package chat drives autonomous persona conversations in rooms.
//
// It provides three entrypoints:
//   - Orchestrator.RunBurst: runs one bounded burst of turns for a room.
//     Each turn plans candidate speakers from the active personas, asks the
//     line-generation collaborator for an utterance, filters near-duplicates
//     with a lexical similarity guard, and commits the result to the room
//     registry. Pacing (min burst interval, per-persona cooldown) and
//     fairness (no consecutive repeats, monopolization cut-off) come from
//     the AutoChatPolicy.
//   - Dispatcher.Trigger: routes a trigger (post_created, user_message,
//     idle_tick) to a per-room worker. One worker goroutine per room
//     consumes a single-slot mailbox, so at most one burst is ever in
//     flight for a room; extra triggers coalesce.
//   - StartIdleTicker: periodically scans rooms and opportunistically
//     triggers bursts in quiet, auto-chat-enabled rooms, with a random gate
//     so quiet rooms don't all fire on the same tick.
//
// Collaborators: line generation and content analysis are external HTTP
// services consumed through the LineGenerator and ContextAnalyzer
// interfaces; failures there degrade to "no message this turn" and never
// abort a burst.
package chat

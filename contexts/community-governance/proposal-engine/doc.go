// Package proposalengine implements the Proposal Engine inside the
// community-governance context.
//
// The module owns proposal lifecycle orchestration (create/read/settle),
// weighted vote admission with one-vote-per-member enforcement, tally
// resolution against quorum and passing threshold, and governance event
// production through outbox-backed workers. It keeps business rules in
// application/domain layers and isolates infrastructure concerns behind
// ports and adapters.
package proposalengine

// Package availability derives per-cell counts, owner lists and heatmap
// intensity from the slot facts of a poll. Everything here is a pure function
// of its inputs; the ledger itself lives in persistence.
package availability

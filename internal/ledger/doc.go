// Package ledger defines the entity types that make up a family ledger:
// transactions, members, categories, and the ledger-wide settings document.
//
// Every row-shaped entity knows how to project itself onto a versioned
// column vector (its canonical form). The sync engine uses that one
// canonical form everywhere: CSV encoding, structural equality during
// three-way diffing, and field-level conflict merging all operate on the
// same column strings, so a record that round-trips through the shared
// folder compares equal to the record that produced it.
//
// Timestamps are normalized to UTC at second granularity in canonical
// form. Sub-second drift between devices must never register as a change.
package ledger

// Package defi defines the shared data model of the intent pipeline: intents,
// financial entities, the read-only conversation context, executable commands
// with their closed parameter schema, and the token/protocol/chain catalog.
//
// Values in this package are plain data. They are created per turn by the
// nlp, command and pipeline packages and never mutated after being returned.
package defi

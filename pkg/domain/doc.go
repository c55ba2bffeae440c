// Package domain holds the model of the worker: what is scheduled
// (discovery jobs and connector runs), what is discovered (resources and identities),
// and how failures are classified.
//
// `domain/ENTITY.go` has the model types.
//
// `domain/ENTITY/db` declares the interface to the database expression of the entity,
// with a Postgres implementation in `db/postgres` and a hand-written mock in `db/mock`.
//
// # Entities
//
// - discovery: discovery jobs and their history. Jobs are claimed by a replica with a
// row lock, run, and completed under the claim token.
//
// - entity: resources discovered in clouds, stored in one of four tables by resource kind.
//
// - connector: the run state of each identity connector. It is claimed like discovery jobs.
//
// - identity: identities, groups and memberships imported from connectors,
// and the outbox of local membership changes to be written back.
//
// - schema: the version of the database schema.
package domain

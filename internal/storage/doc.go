// Package storage defines the persistence interfaces for the engine.
//
// It covers the world reference data the orchestration layer reads
// (regions and their NPC rosters), the records it writes (staging
// decisions, narrative events, relationships, inventory, journals,
// story events), and the sentinel errors implementations share. The
// sqlite subpackage provides the production implementation.
package storage

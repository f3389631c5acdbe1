package migrations

import "embed"

// Placeholders holds the goose migrations of the placeholder reassignment schema.
//
//go:embed placeholders/*.sql
var Placeholders embed.FS

const PlaceholdersDir = "placeholders"

package entitle

import "github.com/xraph/entitle/id"

// ID is the primary identifier type for all Entitle entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

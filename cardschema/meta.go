package cardschema

import (
	"github.com/cardstack/pgsearch/pgstore"
)

// Card metadata fields. Every search document carries them, and the first
// three are also columns of the cards table.
const (
	MetaRealm         = "csRealm"
	MetaOriginalRealm = "csOriginalRealm"
	MetaID            = "csId"

	// MetaAdoptionChain lists the URLs of the card's type and its ancestors.
	MetaAdoptionChain = "csAdoptionChain"
)

const metaPrefix = "cs"

// IsMetaField reports whether name is reserved for card metadata: 'cs'
// followed by an upper case letter.
func IsMetaField(name string) bool {
	if len(name) <= len(metaPrefix) || name[:len(metaPrefix)] != metaPrefix {
		return false
	}
	next := name[len(metaPrefix)]
	return next >= 'A' && next <= 'Z'
}

// MetaColumn returns the logical cards table column holding a metadata
// field.
func MetaColumn(name string) (string, bool) {
	switch name {
	case MetaRealm:
		return pgstore.ColRealm, true
	case MetaOriginalRealm:
		return pgstore.ColOriginalRealm, true
	case MetaID:
		return pgstore.ColID, true
	}
	return "", false
}

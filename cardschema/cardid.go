package cardschema

import (
	"fmt"
	"net/url"
	"strings"
)

// CardID identifies a card, or a card type, by realm, original realm and id.
// A card indexed into a realm other than the one it came from keeps its
// original realm.
type CardID struct {
	Realm         string `json:"realm" yaml:"realm"`
	OriginalRealm string `json:"originalRealm,omitempty" yaml:"originalRealm,omitempty"`
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
}

// Canonical fills OriginalRealm from Realm when it is not set.
func (c CardID) Canonical() CardID {
	if c.OriginalRealm == "" {
		c.OriginalRealm = c.Realm
	}
	return c
}

// URL is the canonical URL of the card, based on the original realm.
func (c CardID) URL() string {
	c = c.Canonical()
	return fmt.Sprintf("%s/cards/%s", strings.TrimSuffix(c.OriginalRealm, "/"), url.PathEscape(c.ID))
}

func (c CardID) String() string {
	c = c.Canonical()
	if c.OriginalRealm == c.Realm {
		return fmt.Sprintf("%s %s", c.Realm, c.ID)
	}
	return fmt.Sprintf("%s (from %s) %s", c.Realm, c.OriginalRealm, c.ID)
}

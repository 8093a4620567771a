package cardschema

// Document is the JSON:API serialization of a card, stored as the pristine
// document.
type Document struct {
	Data Resource `json:"data"`
}

type Resource struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Meta       ResourceMeta           `json:"meta"`
}

type ResourceMeta struct {
	Realm         string  `json:"realm"`
	OriginalRealm string  `json:"originalRealm"`
	AdoptsFrom    *CardID `json:"adoptsFrom,omitempty"`
}

const ResourceType = "cards"

func NewDocument(id CardID, adoptsFrom *CardID, attributes map[string]interface{}) *Document {
	id = id.Canonical()
	return &Document{
		Data: Resource{
			Type:       ResourceType,
			ID:         id.ID,
			Attributes: attributes,
			Meta: ResourceMeta{
				Realm:         id.Realm,
				OriginalRealm: id.OriginalRealm,
				AdoptsFrom:    adoptsFrom,
			},
		},
	}
}

func (d *Document) CardID() CardID {
	return CardID{
		Realm:         d.Data.Meta.Realm,
		OriginalRealm: d.Data.Meta.OriginalRealm,
		ID:            d.Data.ID,
	}.Canonical()
}

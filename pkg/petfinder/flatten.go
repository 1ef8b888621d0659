package petfinder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/petfinder-collector/pkg/pagination"
	"github.com/Sternrassler/petfinder-collector/pkg/record"
	"github.com/goccy/go-json"
)

// Columns are the flattened animal columns in output order. The provenance
// columns from record.ProvenanceColumns follow them.
var Columns = []string{
	"id", "org_id", "url", "type", "species", "age", "gender", "size", "coat",
	"name", "description", "status", "status_changed_at", "published_at", "distance",
	"breeds_primary", "breeds_secondary", "breeds_mixed", "breeds_unknown",
	"colors_primary", "colors_secondary", "colors_tertiary",
	"spayed_neutered", "house_trained", "declawed", "special_needs", "shots_current",
	"env_children", "env_dogs", "env_cats",
	"contact_email", "contact_phone", "contact_address1", "contact_address2",
	"contact_city", "contact_state", "contact_postcode", "contact_country",
	"photo_count", "photo", "primary_photo_cropped", "tags",
}

// TagSeparator joins the tags column.
const TagSeparator = "|"

// Flattener implements pagination.Flattener for animals.
type Flattener struct{}

// NewFlattener returns the animal flattener.
func NewFlattener() *Flattener {
	return &Flattener{}
}

// Flatten decodes the entity and renders it as one row. Null fields are empty.
func (f *Flattener) Flatten(e pagination.Entity, prov pagination.Provenance) (record.Record, error) {
	var a Animal
	if err := json.Unmarshal(e.Raw, &a); err != nil {
		return record.Record{}, fmt.Errorf("decode animal %s: %w", e.ID, err)
	}

	photo := ""
	if len(a.Photos) > 0 {
		photo = a.Photos[0].Full
	}
	cropped := ""
	if a.PrimaryPhotoCropped != nil {
		cropped = a.PrimaryPhotoCropped.Full
	}
	distance := ""
	if a.Distance != nil {
		distance = strconv.FormatFloat(*a.Distance, 'f', -1, 64)
	}

	fields := map[string]string{
		"id":                e.ID,
		"org_id":            str(a.OrganizationID),
		"url":               str(a.URL),
		"type":              str(a.Type),
		"species":           str(a.Species),
		"age":               str(a.Age),
		"gender":            str(a.Gender),
		"size":              str(a.Size),
		"coat":              str(a.Coat),
		"name":              str(a.Name),
		"description":       str(a.Description),
		"status":            str(a.Status),
		"status_changed_at": str(a.StatusChangedAt),
		"published_at":      str(a.PublishedAt),
		"distance":          distance,

		"breeds_primary":   str(a.Breeds.Primary),
		"breeds_secondary": str(a.Breeds.Secondary),
		"breeds_mixed":     boolean(a.Breeds.Mixed),
		"breeds_unknown":   boolean(a.Breeds.Unknown),

		"colors_primary":   str(a.Colors.Primary),
		"colors_secondary": str(a.Colors.Secondary),
		"colors_tertiary":  str(a.Colors.Tertiary),

		"spayed_neutered": boolean(a.Attributes.SpayedNeutered),
		"house_trained":   boolean(a.Attributes.HouseTrained),
		"declawed":        boolean(a.Attributes.Declawed),
		"special_needs":   boolean(a.Attributes.SpecialNeeds),
		"shots_current":   boolean(a.Attributes.ShotsCurrent),

		"env_children": boolean(a.Environment.Children),
		"env_dogs":     boolean(a.Environment.Dogs),
		"env_cats":     boolean(a.Environment.Cats),

		"contact_email":    str(a.Contact.Email),
		"contact_phone":    str(a.Contact.Phone),
		"contact_address1": str(a.Contact.Address.Address1),
		"contact_address2": str(a.Contact.Address.Address2),
		"contact_city":     str(a.Contact.Address.City),
		"contact_state":    str(a.Contact.Address.State),
		"contact_postcode": str(a.Contact.Address.Postcode),
		"contact_country":  str(a.Contact.Address.Country),

		"photo_count":           strconv.Itoa(len(a.Photos)),
		"photo":                 photo,
		"primary_photo_cropped": cropped,
		"tags":                  strings.Join(a.Tags, TagSeparator),
	}

	return record.Record{
		ID:          e.ID,
		Queried:     prov.Queried,
		Group:       prov.Group,
		CollectedAt: prov.CollectedAt,
		Fields:      fields,
	}, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolean(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

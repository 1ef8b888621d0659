package petfinder

// Animal mirrors the fields of a listing entity that are flattened into rows.
// Pointer fields are nullable in the provider's payload.
type Animal struct {
	OrganizationID  *string  `json:"organization_id"`
	URL             *string  `json:"url"`
	Type            *string  `json:"type"`
	Species         *string  `json:"species"`
	Age             *string  `json:"age"`
	Gender          *string  `json:"gender"`
	Size            *string  `json:"size"`
	Coat            *string  `json:"coat"`
	Name            *string  `json:"name"`
	Description     *string  `json:"description"`
	Status          *string  `json:"status"`
	StatusChangedAt *string  `json:"status_changed_at"`
	PublishedAt     *string  `json:"published_at"`
	Distance        *float64 `json:"distance"`

	Breeds      Breeds      `json:"breeds"`
	Colors      Colors      `json:"colors"`
	Attributes  Attributes  `json:"attributes"`
	Environment Environment `json:"environment"`
	Contact     Contact     `json:"contact"`

	Photos              []Photo  `json:"photos"`
	PrimaryPhotoCropped *Photo   `json:"primary_photo_cropped"`
	Tags                []string `json:"tags"`
}

type Breeds struct {
	Primary   *string `json:"primary"`
	Secondary *string `json:"secondary"`
	Mixed     *bool   `json:"mixed"`
	Unknown   *bool   `json:"unknown"`
}

type Colors struct {
	Primary   *string `json:"primary"`
	Secondary *string `json:"secondary"`
	Tertiary  *string `json:"tertiary"`
}

type Attributes struct {
	SpayedNeutered *bool `json:"spayed_neutered"`
	HouseTrained   *bool `json:"house_trained"`
	Declawed       *bool `json:"declawed"`
	SpecialNeeds   *bool `json:"special_needs"`
	ShotsCurrent   *bool `json:"shots_current"`
}

type Environment struct {
	Children *bool `json:"children"`
	Dogs     *bool `json:"dogs"`
	Cats     *bool `json:"cats"`
}

type Contact struct {
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address Address `json:"address"`
}

type Address struct {
	Address1 *string `json:"address1"`
	Address2 *string `json:"address2"`
	City     *string `json:"city"`
	State    *string `json:"state"`
	Postcode *string `json:"postcode"`
	Country  *string `json:"country"`
}

type Photo struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
	Large  string `json:"large"`
	Full   string `json:"full"`
}

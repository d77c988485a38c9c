package service

import (
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// PhoneNumberingPlan implements ports.NumberingPlan with libphonenumber data.
type PhoneNumberingPlan struct {
	regions display.Namer
}

// NewNumberingPlan returns a plan that names countries in English.
func NewNumberingPlan() *PhoneNumberingPlan {
	return &PhoneNumberingPlan{regions: display.English.Regions()}
}

// Lookup returns the country name and carrier for an international MSISDN.
// Unknown parts are returned empty.
func (p *PhoneNumberingPlan) Lookup(msisdn string) (country, operator string) {
	num, err := phonenumbers.Parse(msisdn, "")
	if err != nil {
		return "", ""
	}

	if code := phonenumbers.GetRegionCodeForNumber(num); code != "" && code != phonenumbers.UNKNOWN_REGION {
		if region, err := language.ParseRegion(code); err == nil {
			country = p.regions.Name(region)
		}
	}

	operator, err = phonenumbers.GetCarrierForNumber(num, "en")
	if err != nil {
		operator = ""
	}
	return country, operator
}

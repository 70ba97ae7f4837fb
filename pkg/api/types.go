package api

import (
	"quote-engine/internal/pricing"
	"quote-engine/internal/tier"
)

// Quote is a priced configuration as the server returns it.
type Quote struct {
	Configuration pricing.ServiceConfiguration `json:"configuration"`
	Result        pricing.PriceResult          `json:"result"`
	Enforcement   tier.Enforcement             `json:"enforcement"`
	TierUpgraded  bool                         `json:"tierUpgraded"`
	Generation    uint64                       `json:"generation,omitempty"`
	Offloaded     bool                         `json:"offloaded"`
	Scheme        pricing.Scheme               `json:"scheme"`
	RateVersion   string                       `json:"rateVersion"`
}

type Capabilities struct {
	Scheme           pricing.Scheme `json:"scheme"`
	RateVersion      string         `json:"rateVersion"`
	Tiers            []pricing.Tier `json:"tiers"`
	OffloadSupported bool           `json:"offloadSupported"`
	Rules            []tier.Rule    `json:"rules"`
}

// Session carries no quote until its first room is set.
type Session struct {
	ID    string `json:"id"`
	Quote *Quote `json:"quote,omitempty"`
}

// SessionPatch changes only the fields that are set. A room count of zero
// removes the room.
type SessionPatch struct {
	Rooms                     map[string]int              `json:"rooms,omitempty"`
	PropertyAttributes        *pricing.PropertyAttributes `json:"propertyAttributes,omitempty"`
	Tier                      *pricing.Tier               `json:"serviceTier,omitempty"`
	CleanlinessLevel          *int                        `json:"cleanlinessLevel,omitempty"`
	Frequency                 *pricing.Frequency          `json:"frequency,omitempty"`
	PaymentFrequency          *pricing.PaymentFrequency   `json:"paymentFrequency,omitempty"`
	SelectedAddOns            *[]string                   `json:"selectedAddOns,omitempty"`
	SelectedExclusiveServices *[]string                   `json:"selectedExclusiveServices,omitempty"`
	WaiverSigned              *bool                       `json:"waiverSigned,omitempty"`
	VideoRecording            *bool                       `json:"videoRecording,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

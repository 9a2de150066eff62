package engine

import (
	"encoding/json"
	"fmt"
)

// Common holds the fields every engine request carries.
type Common struct {
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	Priority      int               `json:"priority,omitempty"`
	LogRequest    bool              `json:"logRequest"`
	InstantReturn bool              `json:"instantReturn"`
	Geolocation   *Geolocation      `json:"geolocation,omitempty"`
}

// Variant is the engine-specific part of a Request. The set of implementations
// is closed to this package.
type Variant interface {
	Kind() Kind
	isVariant()
}

// ChromeCDPOptions are only valid for the headless-browser engine.
type ChromeCDPOptions struct {
	Actions             []Action `json:"actions,omitempty"`
	Mobile              bool     `json:"mobile,omitempty"`
	SkipTLSVerification bool     `json:"skipTlsVerification,omitempty"`
}

// Kind implements Variant.
func (ChromeCDPOptions) Kind() Kind { return KindChromeCDP }
func (ChromeCDPOptions) isVariant() {}

// PlaywrightOptions are only valid for the browser-automation engine.
type PlaywrightOptions struct {
	Screenshot         bool `json:"screenshot"`
	FullPageScreenshot bool `json:"fullPageScreenshot"`
	Wait               int  `json:"wait,omitempty"`
}

// Kind implements Variant.
func (PlaywrightOptions) Kind() Kind { return KindPlaywright }
func (PlaywrightOptions) isVariant() {}

// TLSClientOptions are only valid for the raw TLS-client engine.
type TLSClientOptions struct {
	ATSV         bool `json:"atsv,omitempty"`
	DisableJSDOM bool `json:"disableJsDom,omitempty"`
}

// Kind implements Variant.
func (TLSClientOptions) Kind() Kind { return KindTLSClient }
func (TLSClientOptions) isVariant() {}

// Request is the payload posted to an engine's scrape endpoint: the common
// fields plus exactly one variant.
type Request struct {
	Common
	Variant Variant
}

// Engine returns the discriminant of the carried variant.
func (r Request) Engine() Kind {
	if r.Variant == nil {
		return ""
	}
	return r.Variant.Kind()
}

// MarshalJSON flattens the common and variant fields into one object tagged
// with the engine discriminant.
func (r Request) MarshalJSON() ([]byte, error) {
	switch v := r.Variant.(type) {
	case ChromeCDPOptions:
		return json.Marshal(struct {
			Common
			Engine Kind `json:"engine"`
			ChromeCDPOptions
		}{r.Common, v.Kind(), v})
	case PlaywrightOptions:
		return json.Marshal(struct {
			Common
			Engine Kind `json:"engine"`
			PlaywrightOptions
		}{r.Common, v.Kind(), v})
	case TLSClientOptions:
		return json.Marshal(struct {
			Common
			Engine Kind `json:"engine"`
			TLSClientOptions
		}{r.Common, v.Kind(), v})
	default:
		return nil, fmt.Errorf("marshal engine request: unsupported variant %T", r.Variant)
	}
}

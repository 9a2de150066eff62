package engine

import "fmt"

// Build maps spec onto the request shape of kind.
func Build(kind Kind, spec ScrapeSpec) (Request, error) {
	switch kind {
	case KindChromeCDP:
		return BuildChromeCDP(spec), nil
	case KindPlaywright:
		return BuildPlaywright(spec), nil
	case KindTLSClient:
		return BuildTLSClient(spec), nil
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}

// BuildChromeCDP builds a headless-browser request. The engine has no native wait
// or screenshot option, so both are compiled into the action pipeline ahead of
// the caller's own actions.
func BuildChromeCDP(spec ScrapeSpec) Request {
	var actions []Action
	if spec.Wait > 0 {
		actions = append(actions, WaitAction(spec.Wait))
	}
	switch {
	case spec.HasFormat(FormatScreenshotFullPage):
		actions = append(actions, ScreenshotAction(true))
	case spec.HasFormat(FormatScreenshot):
		actions = append(actions, ScreenshotAction(false))
	}
	actions = append(actions, spec.Actions...)

	return Request{
		Common: commonFrom(spec),
		Variant: ChromeCDPOptions{
			Actions:             actions,
			Mobile:              spec.Mobile,
			SkipTLSVerification: spec.SkipTLSVerification,
		},
	}
}

// BuildPlaywright builds a browser-automation request.
func BuildPlaywright(spec ScrapeSpec) Request {
	fullPage := spec.HasFormat(FormatScreenshotFullPage)
	return Request{
		Common: commonFrom(spec),
		Variant: PlaywrightOptions{
			Screenshot:         spec.HasFormat(FormatScreenshot) && !fullPage,
			FullPageScreenshot: fullPage,
			Wait:               int(spec.Wait.Milliseconds()),
		},
	}
}

// BuildTLSClient builds a raw TLS-client request.
func BuildTLSClient(spec ScrapeSpec) Request {
	return Request{
		Common: commonFrom(spec),
		Variant: TLSClientOptions{
			ATSV:         spec.ATSV,
			DisableJSDOM: spec.DisableJSDOM,
		},
	}
}

func commonFrom(spec ScrapeSpec) Common {
	var headers map[string]string
	if len(spec.Headers) > 0 {
		headers = make(map[string]string, len(spec.Headers))
		for k, v := range spec.Headers {
			headers[k] = v
		}
	}
	var geo *Geolocation
	if spec.Geolocation != nil {
		g := *spec.Geolocation
		g.Languages = append([]string(nil), spec.Geolocation.Languages...)
		geo = &g
	}
	return Common{
		URL:           spec.URL,
		Headers:       headers,
		Priority:      spec.Priority,
		LogRequest:    spec.LogRequest,
		InstantReturn: spec.InstantReturn,
		Geolocation:   geo,
	}
}

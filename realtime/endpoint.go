package realtime

import (
	"net/url"
	"strings"
)

// StreamPath is the server path of the event stream.
const StreamPath = "/ws"

// StreamURL builds the dial target for endpoint with token attached as the
// token query parameter. An http or https endpoint is treated as the console
// origin and mapped to ws or wss on StreamPath, mirroring the page's scheme.
// A ws or wss endpoint is used as given, defaulting its path to StreamPath.
func StreamURL(endpoint string, token string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", NewError(InvalidURIError, "empty endpoint")
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", NewError(InvalidURIError, err)
	}
	if parsed.Host == "" {
		return "", NewError(InvalidURIError, "endpoint has no host: "+endpoint)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http":
		parsed.Scheme = "ws"
		parsed.Path = StreamPath
	case "https":
		parsed.Scheme = "wss"
		parsed.Path = StreamPath
	case "ws", "wss":
		parsed.Scheme = strings.ToLower(parsed.Scheme)
		if parsed.Path == "" || parsed.Path == "/" {
			parsed.Path = StreamPath
		}
	default:
		return "", NewError(InvalidURIError, "unsupported scheme "+parsed.Scheme)
	}
	parsed.RawPath = ""
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	query.Del("token")
	if token != "" {
		query.Set("token", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// redactToken returns target with the token parameter masked for logging.
func redactToken(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	query := parsed.Query()
	if query.Get("token") == "" {
		return target
	}
	query.Set("token", "REDACTED")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

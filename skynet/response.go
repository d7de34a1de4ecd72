package skynet

import (
	"encoding/json"
	"strings"
)

// SkylinkScheme prefixes skylinks returned by the portal.
const SkylinkScheme = "sia://"

// Skylink identifies uploaded content on Skynet.
type Skylink string

// ID returns the skylink without its sia:// scheme.
func (s Skylink) ID() string {
	return strings.TrimPrefix(string(s), SkylinkScheme)
}

// HTTP returns the URL the content can be fetched from on portalURL.
func (s Skylink) HTTP(portalURL string) string {
	return strings.TrimRight(portalURL, "/") + "/" + s.ID()
}

func (s Skylink) String() string {
	return string(s)
}

// Response is the portal's reply to an upload.
type Response struct {
	Skylink    Skylink `json:"skylink"`
	Merkleroot string  `json:"merkleroot"`
	Bitfield   int     `json:"bitfield"`
}

func parseResponse(body []byte) (*Response, error) {
	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ParseError{Body: body, Err: err}
	}
	if result.Skylink == "" {
		return nil, &ParseError{Body: body, Err: errMissingSkylink}
	}
	return &result, nil
}

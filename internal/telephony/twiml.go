package telephony

import (
	"encoding/xml"
	"fmt"
	"time"
)

type twimlResponse struct {
	XMLName xml.Name    `xml:"Response"`
	Pause   *twimlPause `xml:"Pause,omitempty"`
	Hangup  struct{}    `xml:"Hangup"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

// ListenTwiML keeps the answered call silent for the listen window so the
// announcement plays into the recording, then hangs up.
func ListenTwiML(listen time.Duration) (string, error) {
	resp := twimlResponse{}
	if secs := int(listen.Seconds()); secs > 0 {
		resp.Pause = &twimlPause{Length: secs}
	}
	out, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal twiml: %w", err)
	}
	return string(out), nil
}

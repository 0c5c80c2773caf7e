// Package mpd parses DASH media presentation descriptions served for
// high-resolution audio.
package mpd

import (
	"encoding/xml"
	"fmt"
	"io"
)

type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	Profiles                  string   `xml:"profiles,attr"`
	Type                      string   `xml:"type,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	Period                    Period   `xml:"Period"`
}

type Period struct {
	ID            string        `xml:"id,attr"`
	AdaptationSet AdaptationSet `xml:"AdaptationSet"`
}

type AdaptationSet struct {
	ID               string         `xml:"id,attr"`
	ContentType      string         `xml:"contentType,attr"`
	MimeType         string         `xml:"mimeType,attr"`
	SegmentAlignment bool           `xml:"segmentAlignment,attr"`
	Representation   Representation `xml:"Representation"`
}

type Representation struct {
	ID                string          `xml:"id,attr"`
	Codecs            string          `xml:"codecs,attr"`
	Bandwidth         int             `xml:"bandwidth,attr"`
	AudioSamplingRate int             `xml:"audioSamplingRate,attr"`
	SegmentTemplate   SegmentTemplate `xml:"SegmentTemplate"`
}

type SegmentTemplate struct {
	Timescale       int             `xml:"timescale,attr"`
	Initialization  string          `xml:"initialization,attr"`
	Media           string          `xml:"media,attr"`
	StartNumber     int             `xml:"startNumber,attr"`
	SegmentTimeline SegmentTimeline `xml:"SegmentTimeline"`
}

type SegmentTimeline struct {
	S []S `xml:"S"`
}

type S struct {
	D int `xml:"d,attr"`
	R int `xml:"r,attr,omitempty"`
}

// StreamInfo is the distilled audio stream description of a manifest.
type StreamInfo struct {
	Codec             string
	MimeType          string
	AudioSamplingRate int
	Segments          Segments
}

type Segments struct {
	// MediaURLTemplate carries a $Number$ placeholder for the segment index.
	MediaURLTemplate string
	Count            int
}

func (m *MPD) segments() (*Segments, error) {
	contentType := m.Period.AdaptationSet.ContentType
	if contentType != "audio" {
		return nil, fmt.Errorf("unexpected content type: %s", contentType)
	}

	// Initialization plus the first media segment, then every repeat.
	count := 2
	for _, s := range m.Period.AdaptationSet.Representation.SegmentTemplate.SegmentTimeline.S {
		if s.R != 0 {
			count += s.R
		} else {
			count++
		}
	}

	return &Segments{
		MediaURLTemplate: m.Period.AdaptationSet.Representation.SegmentTemplate.Media,
		Count:            count,
	}, nil
}

func ParseStreamInfo(r io.Reader) (*StreamInfo, error) {
	var mpd MPD
	dec := xml.NewDecoder(r)
	dec.Strict = true
	if err := dec.Decode(&mpd); nil != err {
		return nil, fmt.Errorf("failed to parse MPD: %v", err)
	}

	segments, err := mpd.segments()
	if nil != err {
		return nil, fmt.Errorf("failed to get segments: %v", err)
	}

	return &StreamInfo{
		Codec:             mpd.Period.AdaptationSet.Representation.Codecs,
		MimeType:          mpd.Period.AdaptationSet.MimeType,
		AudioSamplingRate: mpd.Period.AdaptationSet.Representation.AudioSamplingRate,
		Segments:          *segments,
	}, nil
}

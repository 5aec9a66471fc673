package manifest

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// The camera's VOD MPD URI always ends with one of these document names;
// segment URIs are derived by swapping the ending for the segment file name.
var uriFileEndings = []string{"clip.mpd", "file.mpd"}

// segmentURI derives a segment's URI from the MPD document URI.
func segmentURI(mpdURI, name string) (string, error) {
	for _, ending := range uriFileEndings {
		if strings.Contains(mpdURI, ending) {
			return strings.Replace(mpdURI, ending, name, 1), nil
		}
	}
	return "", fmt.Errorf("mpd uri %q has no recognized document ending", mpdURI)
}

// mpdInfo is the segment addressing scheme extracted from an MPD document:
// the init file name, the media file pattern with its $Number$ placeholder,
// and the number of the first segment.
type mpdInfo struct {
	Init        string
	Pattern     string
	StartNumber int
}

// segmentName expands the media pattern for the i-th segment of the window
// (0-based); the camera maps segment numbers to absolute clip time itself.
func (m *mpdInfo) segmentName(i int) string {
	return strings.ReplaceAll(m.Pattern, "$Number$", fmt.Sprintf("%d", i+m.StartNumber))
}

type xmlSegmentTemplate struct {
	Initialization string `xml:"initialization,attr"`
	Media          string `xml:"media,attr"`
	StartNumber    *int   `xml:"startNumber,attr"`
}

type xmlRepresentation struct {
	MimeType        string              `xml:"mimeType,attr"`
	SegmentTemplate *xmlSegmentTemplate `xml:"SegmentTemplate"`
}

type xmlAdaptationSet struct {
	ContentType     string              `xml:"contentType,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	SegmentTemplate *xmlSegmentTemplate `xml:"SegmentTemplate"`
	Representations []xmlRepresentation `xml:"Representation"`
}

type xmlMPD struct {
	Periods []struct {
		AdaptationSets []xmlAdaptationSet `xml:"AdaptationSet"`
	} `xml:"Period"`
}

// parseMPD extracts the segment addressing scheme for the requested media
// kind from an MPD document. When the document carries multiple adaptation
// sets, the one matching the kind's content type wins; otherwise the first
// complete template is used.
func parseMPD(doc []byte, kind Kind) (*mpdInfo, error) {
	var mpd xmlMPD
	if err := xml.Unmarshal(doc, &mpd); err != nil {
		return nil, fmt.Errorf("failed to parse mpd document: %v", err)
	}

	want := "video"
	if kind == Audio {
		want = "audio"
	}

	var fallback *xmlSegmentTemplate
	for _, period := range mpd.Periods {
		for _, set := range period.AdaptationSets {
			candidates := []*xmlSegmentTemplate{set.SegmentTemplate}
			for i := range set.Representations {
				candidates = append(candidates, set.Representations[i].SegmentTemplate)
			}
			matches := strings.Contains(set.ContentType, want) || strings.Contains(set.MimeType, want)
			for _, tpl := range candidates {
				if tpl == nil || tpl.Initialization == "" || tpl.Media == "" {
					continue
				}
				if matches {
					return templateInfo(tpl), nil
				}
				if fallback == nil {
					fallback = tpl
				}
			}
		}
	}
	if fallback != nil {
		return templateInfo(fallback), nil
	}
	return nil, fmt.Errorf("mpd document has no usable segment template")
}

func templateInfo(tpl *xmlSegmentTemplate) *mpdInfo {
	start := 1
	if tpl.StartNumber != nil {
		start = *tpl.StartNumber
	}
	return &mpdInfo{
		Init:        tpl.Initialization,
		Pattern:     tpl.Media,
		StartNumber: start,
	}
}

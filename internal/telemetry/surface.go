package telemetry

import (
	"fmt"
	"strings"
)

// Surface is the variant tag of a mounted viewer.
type Surface string

const (
	PDF     Surface = "pdf"
	DOCX    Surface = "docx"
	PPTX    Surface = "pptx"
	Video   Surface = "video"
	Weblink Surface = "weblink"
)

// Surfaces lists every supported surface in a stable order.
var Surfaces = []Surface{PDF, DOCX, PPTX, Video, Weblink}

// Kind groups surfaces that share time accounting rules.
type Kind int

const (
	KindUnknown Kind = iota
	KindPaged        // pages turned by the reader; time attributed per page
	KindVideo        // active only while playing
	KindPage         // an embedded web page; pointer heatmap
)

func (k Kind) String() string {
	switch k {
	case KindPaged:
		return "paged"
	case KindVideo:
		return "video"
	case KindPage:
		return "page"
	default:
		return "unknown"
	}
}

// Kind returns the kind of s.
func (s Surface) Kind() Kind {
	switch s {
	case PDF, DOCX, PPTX:
		return KindPaged
	case Video:
		return KindVideo
	case Weblink:
		return KindPage
	default:
		return KindUnknown
	}
}

// Valid reports whether s is one of the supported surfaces.
func (s Surface) Valid() bool { return s.Kind() != KindUnknown }

// SubjectField is the payload key that carries the subject id.
func (s Surface) SubjectField() string {
	switch s.Kind() {
	case KindVideo:
		return "videoId"
	case KindPage:
		return "webId"
	default:
		return "pdfId"
	}
}

// ParseSurface parses a surface name, case-insensitively.
func ParseSurface(name string) (Surface, error) {
	s := Surface(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown surface %q", name)
	}
	return s, nil
}

// SurfaceForMIME picks the surface that renders content of the given MIME
// type. Anything unrecognised is shown as a web page.
func SurfaceForMIME(mime string) Surface {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.Contains(mime, "video"):
		return Video
	case strings.Contains(mime, "pdf"):
		return PDF
	case mime == "application/msword",
		mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return DOCX
	case mime == "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return PPTX
	default:
		return Weblink
	}
}

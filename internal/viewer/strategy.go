package viewer

import (
	"net/url"
	"strings"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

// StrategyKind names one way of rendering a material.
type StrategyKind string

const (
	EmbeddedViewer    StrategyKind = "embedded-viewer"
	GoogleDocsProxy   StrategyKind = "google-docs-proxy"
	OfficeOnlineProxy StrategyKind = "office-online-proxy"
	RawStreamIframe   StrategyKind = "raw-stream-iframe"
	NativeMedia       StrategyKind = "native-media"
	DirectEmbed       StrategyKind = "direct-embed"
	SandboxedHTML     StrategyKind = "sandboxed-html"
	SandboxedExternal StrategyKind = "sandboxed-external-iframe"
)

// FallbackKind is the terminal affordance shown once every strategy failed.
type FallbackKind string

const (
	NoFallback     FallbackKind = ""
	DownloadLink   FallbackKind = "download-link"
	OpenExternally FallbackKind = "open-externally"
)

// Plan is the ordered strategy list for a file type.
type Plan struct {
	Strategies []StrategyKind
	Fallback   FallbackKind
	// AutoCascade is false when load errors cannot be introspected
	// (cross-origin iframes); the first error goes straight to the fallback.
	AutoCascade bool
	// Probe enables a server-side reachability check before rendering.
	Probe bool
}

// DefaultPlans maps every file type to its cascade. Adding a file type or a
// fallback is a change to this table only.
var DefaultPlans = map[course.FileType]Plan{
	course.FilePDF: {
		Strategies:  []StrategyKind{EmbeddedViewer, GoogleDocsProxy, RawStreamIframe},
		Fallback:    DownloadLink,
		AutoCascade: true,
		Probe:       true,
	},
	course.FileDocument: {
		Strategies:  []StrategyKind{OfficeOnlineProxy, GoogleDocsProxy, RawStreamIframe},
		Fallback:    DownloadLink,
		AutoCascade: true,
		Probe:       true,
	},
	course.FilePresentation: {
		Strategies:  []StrategyKind{OfficeOnlineProxy, GoogleDocsProxy, RawStreamIframe},
		Fallback:    DownloadLink,
		AutoCascade: true,
		Probe:       true,
	},
	course.FileVideo: {
		Strategies:  []StrategyKind{NativeMedia},
		Fallback:    DownloadLink,
		AutoCascade: true,
		Probe:       true,
	},
	course.FileImage: {
		Strategies:  []StrategyKind{DirectEmbed},
		Fallback:    DownloadLink,
		AutoCascade: true,
		Probe:       true,
	},
	// inline HTML has no fallback and never exhausts; load errors keep the
	// inline target
	course.FileHTML: {
		Strategies: []StrategyKind{SandboxedHTML},
		Fallback:   NoFallback,
	},
	course.FileExternal: {
		Strategies: []StrategyKind{SandboxedExternal},
		Fallback:   OpenExternally,
	},
}

// PlanFor returns the plan for a file type; unknown types only offer a download.
func PlanFor(ft course.FileType) Plan {
	if p, ok := DefaultPlans[ft]; ok {
		return p
	}
	return Plan{Fallback: DownloadLink}
}

// Target is what the client renders.
type Target struct {
	Strategy       StrategyKind `json:"strategy,omitempty"`
	Fallback       FallbackKind `json:"fallback,omitempty"`
	URL            string       `json:"url,omitempty"`
	HTML           string       `json:"html,omitempty"`
	Sandbox        string       `json:"sandbox,omitempty"` // iframe sandbox attribute
	RangeSupported bool         `json:"range_supported,omitempty"`
	Terminal       bool         `json:"terminal,omitempty"`
}

const (
	googleViewerURL = "https://docs.google.com/gview?embedded=true&url="
	officeViewerURL = "https://view.officeapps.live.com/op/embed.aspx?src="

	sandboxHTML     = "allow-same-origin"
	sandboxExternal = "allow-scripts allow-same-origin allow-popups allow-forms"
)

// Resolver turns a material and a strategy into a concrete Target.
type Resolver struct {
	// ContentBase is the public URL prefix of the byte-range content endpoint,
	// e.g. "https://lms.example.com/content".
	ContentBase string
}

// SourceURL is the absolute URL of the material bytes.
func (r Resolver) SourceURL(m course.Material) string {
	if IsRemote(m.SourceRef) {
		return m.SourceRef
	}
	return strings.TrimSuffix(r.ContentBase, "/") + "/" + strings.TrimPrefix(m.SourceRef, "/")
}

func (r Resolver) Build(kind StrategyKind, m course.Material) Target {
	src := r.SourceURL(m)
	t := Target{Strategy: kind}
	switch kind {
	case EmbeddedViewer, RawStreamIframe, NativeMedia, DirectEmbed:
		t.URL = src
	case GoogleDocsProxy:
		t.URL = googleViewerURL + url.QueryEscape(src)
	case OfficeOnlineProxy:
		t.URL = officeViewerURL + url.QueryEscape(src)
	case SandboxedHTML:
		t.Sandbox = sandboxHTML
		if m.HTML != "" {
			t.HTML = m.HTML
		} else {
			t.URL = src
		}
	case SandboxedExternal:
		t.URL = m.SourceRef
		t.Sandbox = sandboxExternal
	}
	return t
}

func (r Resolver) BuildFallback(kind FallbackKind, m course.Material) Target {
	t := Target{Fallback: kind, Terminal: true}
	switch kind {
	case DownloadLink:
		t.URL = r.SourceURL(m)
	case OpenExternally:
		t.URL = m.SourceRef
	}
	return t
}

// IsRemote reports whether ref is an absolute http(s) URL rather than a blob key.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

package lsp

import (
	"path/filepath"
	"strings"

	"github.com/dshills/clangmux/internal/host"
	"github.com/dshills/clangmux/internal/project"
)

// Language identifiers clangd serves.
const (
	LanguageC      = "c"
	LanguageCPP    = "cpp"
	LanguageObjC   = "objective-c"
	LanguageObjCPP = "objective-cpp"
	LanguageCUDA   = "cuda-cpp"
)

// DefaultLanguages returns the language identifiers routed by default.
func DefaultLanguages() []string {
	return []string{LanguageC, LanguageCPP, LanguageObjC, LanguageObjCPP, LanguageCUDA}
}

// IsServedLanguage reports whether documents with the given language id
// are routed at all. Documents in other languages are ignored by the
// manager rather than sent to a fallback session.
func IsServedLanguage(id string) bool {
	switch id {
	case LanguageC, LanguageCPP, LanguageObjC, LanguageObjCPP, LanguageCUDA:
		return true
	default:
		return false
	}
}

// extLanguages maps file extensions to language identifiers.
var extLanguages = map[string]string{
	"c":   LanguageC,
	"h":   LanguageC,
	"cc":  LanguageCPP,
	"cpp": LanguageCPP,
	"cxx": LanguageCPP,
	"c++": LanguageCPP,
	"hh":  LanguageCPP,
	"hpp": LanguageCPP,
	"hxx": LanguageCPP,
	"h++": LanguageCPP,
	"ipp": LanguageCPP,
	"inc": LanguageCPP,
	"m":   LanguageObjC,
	"mm":  LanguageObjCPP,
	"cu":  LanguageCUDA,
	"cuh": LanguageCUDA,
}

// DetectLanguageID guesses the language id from the file extension.
// Returns an empty string for files clangd does not serve.
func DetectLanguageID(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return extLanguages[ext]
}

// DocumentLanguage returns the effective language id of a document,
// preferring the host's classification over extension detection.
func DocumentLanguage(doc host.Document) string {
	if doc.LanguageID != "" {
		return doc.LanguageID
	}
	return DetectLanguageID(doc.Path)
}

// DocumentFilter selects the documents one session serves.
//
// A session scoped to a project serves documents under the project root.
// The session of the active project additionally serves the pinned
// Documents list, which is how unmatched documents are attached to it.
// An empty RootURI scopes the session to the whole workspace.
type DocumentFilter struct {
	// RootURI is the root location all served paths live under.
	RootURI string

	// Languages are the served language ids. Empty means the default
	// clangd set.
	Languages []string

	// Documents are URIs served regardless of RootURI.
	Documents []string
}

// Matches reports whether the filter selects the document.
func (f DocumentFilter) Matches(doc host.Document) bool {
	if !f.languageOK(DocumentLanguage(doc)) {
		return false
	}
	if f.RootURI == "" {
		return true
	}
	if strings.HasPrefix(project.NormalizeURI(doc.URI), project.NormalizeURI(f.RootURI)) {
		return true
	}
	for _, uri := range f.Documents {
		if uri == doc.URI {
			return true
		}
	}
	return false
}

func (f DocumentFilter) languageOK(id string) bool {
	if len(f.Languages) == 0 {
		return IsServedLanguage(id)
	}
	for _, lang := range f.Languages {
		if lang == id {
			return true
		}
	}
	return false
}

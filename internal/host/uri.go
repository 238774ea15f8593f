package host

import (
	"net/url"
	"path/filepath"
	"runtime"
)

// PathToURI converts a file path to a file:// URI.
func PathToURI(path string) string {
	if path == "" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	absPath = filepath.ToSlash(absPath)

	// On Windows, add a leading slash before the drive letter.
	if runtime.GOOS == "windows" && len(absPath) >= 2 && absPath[1] == ':' {
		absPath = "/" + absPath
	}

	u := url.URL{
		Scheme: "file",
		Path:   absPath,
	}
	return u.String()
}

// URIToPath converts a file:// URI to a native file path.
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}

	if u.Scheme != "file" {
		return "", ErrInvalidURI
	}

	decodedPath, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", err
	}

	path := filepath.FromSlash(decodedPath)

	// On Windows, remove the leading slash before the drive letter.
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}

	return path, nil
}

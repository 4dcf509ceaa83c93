package transfer

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Route prefixes
const (
	DownloadPrefix = "/download/"
	UploadPrefix   = "/upload/"
)

// Response bodies
const (
	msgExpired      = "This link has expired."
	msgNotFound     = "Not Found"
	msgUploadFailed = "upload failed"
	msgUploadOK     = "OK"
)

func writeText(w http.ResponseWriter, statusCode int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	fmt.Fprintln(w, msg)
}

func notFound(w http.ResponseWriter) {
	writeText(w, http.StatusNotFound, msgNotFound)
}

// contentDisposition builds an attachment header with a quoted ASCII
// filename and, for other names, an RFC 5987 filename* parameter.
func contentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '_'
		}
		return r
	}, name)
	quoted := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(ascii)

	v := fmt.Sprintf(`attachment; filename="%s"`, quoted)
	if ascii != name {
		v += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return v
}

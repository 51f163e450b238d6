package fsrv

import (
	"strings"
	"unicode/utf8"
)

const maxTextProbe = 10 * 1024

// extByMime: known media extensions resolve directly, everything else falls
// through to the text-sniff probe.
var extByMime = map[string]string{
	"aac":   "audio/aac",
	"mid":   "audio/midi, audio/x-midi",
	"midi":  "audio/midi, audio/x-midi",
	"mp3":   "audio/mpeg",
	"m4a":   "audio/mp4",
	"oga":   "audio/ogg",
	"opus":  "audio/opus",
	"wav":   "audio/wav",
	"weba":  "audio/webm",
	"avi":   "video/x-msvideo",
	"mp4":   "video/mp4",
	"m4v":   "video/mp4",
	"ts":    "video/mp2t",
	"mpeg":  "video/mpeg",
	"ogv":   "video/ogg",
	"webm":  "video/webm",
	"3gp":   "video/3gpp",
	"3g2":   "video/3gpp2",
	"mov":   "video/quicktime",
	"bmp":   "image/bmp",
	"gif":   "image/gif",
	"ico":   "image/vnd.microsoft.icon",
	"jpeg":  "image/jpeg",
	"jpg":   "image/jpeg",
	"png":   "image/png",
	"svg":   "image/svg+xml",
	"tif":   "image/tiff",
	"tiff":  "image/tiff",
	"webp":  "image/webp",
	"pdf":   "application/pdf",
	"heif":  "image/heif,image/heif-sequence",
	"heifs": "image/heif,image/heif-sequence",
	"heic":  "image/heic,image/heic-sequence",
	"heics": "image/heic,image/heic-sequence",
	"avif":  "image/avif",
	"avci":  "image/avif",
	"avcs":  "image/avif",
}

// textExtByMime is consulted only once the text-sniff probe recognizes the
// content as text: only browser-recognized types, everything else is
// text/plain.
var textExtByMime = map[string]string{
	"html":     "text/html",
	"htm":      "text/html",
	"css":      "text/css",
	"js":       "text/javascript",
	"mjs":      "text/javascript",
	"csv":      "text/csv",
	"md":       "text/markdown",
	"markdown": "text/markdown",
	"rtf":      "text/rtf",
	"vtt":      "text/vtt",
	"xml":      "text/xml",
	"txt":      "text/plain",
}

// inferMIME resolves ext to a Content-Type, probing up to maxTextProbe bytes
// of sample when ext isn't in the known-media table. An unrecognized,
// non-text sample resolves to application/octet-stream.
func inferMIME(ext string, sample []byte) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if mt, ok := extByMime[ext]; ok {
		return mt
	}

	if !looksLikeText(sample) {
		return "application/octet-stream"
	}

	charset := "utf-8"
	if mt, ok := textExtByMime[ext]; ok {
		return mt + "; charset=" + charset
	}
	return "text/plain; charset=" + charset
}

// looksLikeText: a NUL byte anywhere in the sample means binary; otherwise
// the sample must be valid UTF-8 (or empty, for zero-length files).
func looksLikeText(sample []byte) bool {
	if len(sample) == 0 {
		return true
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample)
}

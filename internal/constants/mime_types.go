package constants

// DefaultMimeType is the fallback MIME type for unknown content
const DefaultMimeType = "application/octet-stream"

// Extensions used for captured inbound media, keyed by media kind.
const (
	DefaultImageExtension    = "jpg"
	DefaultVideoExtension    = "mp4"
	DefaultAudioExtension    = "ogg"
	DefaultDocumentExtension = "bin"
)

// MimeTypeToExtension maps MIME types to their primary file extensions
var MimeTypeToExtension = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",

	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/x-msvideo": ".avi",

	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"application/zip": ".zip",
	"text/plain":      ".txt",
	"text/csv":        ".csv",
	"application/rtf": ".rtf",

	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/aac":  ".aac",
	"audio/mp4":  ".m4a",
}

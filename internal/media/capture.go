// Package media stores attachments of inbound messages on disk.
package media

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wamux/internal/constants"
	apperrors "wamux/internal/errors"
	"wamux/internal/metrics"
	"wamux/internal/models"
	"wamux/internal/security"
	"wamux/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// DownloadFunc fetches the raw bytes of a message's media.
type DownloadFunc func(ctx context.Context) ([]byte, error)

// Saver writes captured media into a single directory.
type Saver struct {
	dir    string
	logger logrus.FieldLogger
}

// NewSaver creates dir if it does not exist.
func NewSaver(cfg models.MediaConfig, logger logrus.FieldLogger) (*Saver, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = constants.DefaultMediaDir
	}
	if err := security.ValidateFilePath(dir); err != nil {
		return nil, apperrors.NewMediaError("init", "", err)
	}
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
		return nil, apperrors.NewMediaError("init", "", err)
	}
	return &Saver{dir: dir, logger: logger.WithField(constants.LogFieldComponent, "media")}, nil
}

func (s *Saver) Dir() string { return s.dir }

// Capture downloads msg's media, if it has any, and returns the saved
// path. A message without media returns "" and no error.
func (s *Saver) Capture(ctx context.Context, msg types.Message, download DownloadFunc) (string, error) {
	kind, info := msg.Media()
	if kind == types.MediaNone {
		return "", nil
	}

	name := FileName(msg.Key.ID, kind, info)
	path, err := security.SafeJoin(s.dir, name)
	if err != nil {
		return "", apperrors.NewMediaError("save", string(kind), err)
	}

	data, err := download(ctx)
	if err != nil {
		return "", apperrors.NewMediaError("download", string(kind), err)
	}

	if err := os.WriteFile(path, data, constants.DefaultFilePermissions); err != nil {
		return "", apperrors.NewMediaError("save", string(kind), err)
	}

	metrics.IncrementCounter(metrics.MediaCapturedTotal, map[string]string{"media_type": string(kind)}, "Inbound media files saved")
	s.logger.WithFields(logrus.Fields{
		constants.LogFieldMediaType: kind,
		constants.LogFieldFilePath:  path,
		constants.LogFieldSize:      len(data),
	}).Info("Media saved")

	return path, nil
}

// FileName returns the file name media of the given kind is stored under.
// Documents keep their original base name, gaining an extension from the
// mimetype when they have none.
func FileName(messageID string, kind types.MediaKind, info *types.MediaInfo) string {
	switch kind {
	case types.MediaImage:
		return messageID + "." + constants.DefaultImageExtension
	case types.MediaVideo:
		return messageID + "." + constants.DefaultVideoExtension
	case types.MediaAudio:
		return messageID + "." + constants.DefaultAudioExtension
	}

	fallback := messageID + "." + constants.DefaultDocumentExtension
	if info == nil || info.FileName == "" {
		return fallback
	}

	base := filepath.Base(filepath.ToSlash(strings.ReplaceAll(info.FileName, "\\", "/")))
	if base == "." || base == "/" || base == ".." || base == "" {
		return fallback
	}
	if filepath.Ext(base) == "" {
		base += extensionForMimetype(info.Mimetype)
	}
	return base
}

func extensionForMimetype(mimetype string) string {
	if mimetype == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(mimetype)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(mimetype, ";", 2)[0])
	}
	if ext, ok := constants.MimeTypeToExtension[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return ""
}

// CleanupOldFiles removes regular files older than maxAge and returns how
// many were removed.
func (s *Saver) CleanupOldFiles(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read media directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return removed, fmt.Errorf("failed to get file info: %w", err)
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
				return removed, fmt.Errorf("failed to remove old file: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

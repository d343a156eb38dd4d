package manager

import (
	"fmt"
	"strings"

	"chunkup/internal/config"
	"chunkup/pkg/types"
	"chunkup/pkg/utils"
)

// validate applies the configured size bounds and extension allow-list
func validate(cfg *config.Config, meta types.FileMetadata) error {
	if meta.Size <= 0 {
		return ErrEmptyFile
	}
	if meta.Size > cfg.FileMaxSize {
		return fmt.Errorf("%w: %s > %s", ErrFileTooLarge,
			utils.FormatFileSize(meta.Size), utils.FormatFileSize(cfg.FileMaxSize))
	}
	if len(cfg.FileTypeLimit) == 0 {
		return nil
	}

	ext := utils.FileExtension(meta.Name)
	for _, allowed := range cfg.FileTypeLimit {
		if strings.EqualFold(ext, allowed) {
			return nil
		}
	}
	if ext == "" {
		return fmt.Errorf("%w: no extension", ErrFileTypeNotAllowed)
	}
	return fmt.Errorf("%w: .%s", ErrFileTypeNotAllowed, ext)
}

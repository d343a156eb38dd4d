package processor

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// identifierNamespace scopes the name-based UUIDs handed out as file identifiers
var identifierNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("chunkup/file-identifier"))

// Identifier fingerprints a file from its size, relative path and content.
// The same bytes at the same path always map to the same identifier.
func Identifier(fs afero.Fs, path, relativePath string, size int64) (string, error) {
	file, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	name := make([]byte, 0, 128)
	name = strconv.AppendInt(name, size, 10)
	name = append(name, '-')
	name = append(name, relativePath...)
	name = append(name, '-')
	name = h.Sum(name)

	return uuid.NewSHA1(identifierNamespace, name).String(), nil
}

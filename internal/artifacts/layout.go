package artifacts

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FileIDLength is the length of every fileid.
const FileIDLength = 9

// Supported extensions for uploads, tiles and thumbnails.
const (
	ExtJPG = "jpg"
	ExtPNG = "png"
)

var (
	// ErrInvalidFileID is returned for fileids that cannot be mapped to a path.
	ErrInvalidFileID = errors.New("invalid fileid")
	// ErrUnsupportedExt is returned for extensions other than jpg and png.
	ErrUnsupportedExt = errors.New("unsupported extension")
)

// NewFileID returns a random lowercase hex fileid.
func NewFileID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:FileIDLength]
}

// ValidateFileID checks a fileid's length and alphabet.
func ValidateFileID(fileid string) error {
	if len(fileid) != FileIDLength {
		return fmt.Errorf("%w: %q has length %d", ErrInvalidFileID, fileid, len(fileid))
	}
	for _, r := range fileid {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidFileID, fileid, r)
		}
	}
	return nil
}

// SplitFileID splits a fileid 1/2/6 into its directory components.
func SplitFileID(fileid string) (string, string, string, error) {
	if err := ValidateFileID(fileid); err != nil {
		return "", "", "", err
	}
	return fileid[:1], fileid[1:3], fileid[3:], nil
}

// JoinFileID reverses SplitFileID.
func JoinFileID(c0, c12, rest string) (string, error) {
	fileid := c0 + c12 + rest
	if len(c0) != 1 || len(c12) != 2 {
		return "", fmt.Errorf("%w: %s/%s/%s", ErrInvalidFileID, c0, c12, rest)
	}
	if err := ValidateFileID(fileid); err != nil {
		return "", err
	}
	return fileid, nil
}

// ValidateExt accepts jpg and png.
func ValidateExt(ext string) error {
	switch ext {
	case ExtJPG, ExtPNG:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedExt, ext)
	}
}

// ExtForContentType maps image/jpeg and image/png to an extension.
func ExtForContentType(contentType string) (string, error) {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ExtJPG, nil
	case "image/png":
		return ExtPNG, nil
	default:
		return "", fmt.Errorf("%w: content type %q", ErrUnsupportedExt, contentType)
	}
}

// ContentTypeForExt is the inverse of ExtForContentType.
func ContentTypeForExt(ext string) string {
	if ext == ExtPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Layout resolves artifact paths under a static root.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) fanout(top, fileid string) (string, error) {
	c0, c12, rest, err := SplitFileID(fileid)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Root, top, c0, c12, rest), nil
}

// UploadPath returns the path of the original upload.
func (l Layout) UploadPath(fileid, ext string) (string, error) {
	if err := ValidateExt(ext); err != nil {
		return "", err
	}
	base, err := l.fanout("uploads", fileid)
	if err != nil {
		return "", err
	}
	return base + "." + ext, nil
}

// UploadCandidates returns the upload paths checked for fileid, jpg first.
func (l Layout) UploadCandidates(fileid string) ([]string, error) {
	base, err := l.fanout("uploads", fileid)
	if err != nil {
		return nil, err
	}
	return []string{base + "." + ExtJPG, base + "." + ExtPNG}, nil
}

// ResizedPath inserts -<zoom>-<edge> before the extension of sourcePath.
func ResizedPath(sourcePath string, zoom, edge int) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + "-" + strconv.Itoa(zoom) + "-" + strconv.Itoa(edge) + ext
}

// ResizedPattern returns a glob matching every resized raster of sourcePath.
func ResizedPattern(sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + "-*-*" + ext
}

// TileRoot returns the directory holding every tile of fileid.
func (l Layout) TileRoot(fileid string) (string, error) {
	return l.fanout("tiles", fileid)
}

// TileDir returns the directory of one zoom level.
func (l Layout) TileDir(fileid string, size, zoom int) (string, error) {
	root, err := l.TileRoot(fileid)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, strconv.Itoa(size), strconv.Itoa(zoom)), nil
}

// TilePath returns the path of one tile.
func (l Layout) TilePath(fileid string, size, zoom, row, col int, ext string) (string, error) {
	if err := ValidateExt(ext); err != nil {
		return "", err
	}
	dir, err := l.TileDir(fileid, size, zoom)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, TileName(row, col, ext)), nil
}

// TileName returns "<row>,<col>.<ext>".
func TileName(row, col int, ext string) string {
	return strconv.Itoa(row) + "," + strconv.Itoa(col) + "." + ext
}

// ParseTileName parses "<row>,<col>.<ext>".
func ParseTileName(name string) (row, col int, ext string, err error) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return 0, 0, "", fmt.Errorf("tile name %q has no extension", name)
	}
	ext = name[dot+1:]
	r, c, ok := strings.Cut(name[:dot], ",")
	if !ok {
		return 0, 0, "", fmt.Errorf("tile name %q is not row,col", name)
	}
	if row, err = strconv.Atoi(r); err != nil {
		return 0, 0, "", fmt.Errorf("tile row in %q: %w", name, err)
	}
	if col, err = strconv.Atoi(c); err != nil {
		return 0, 0, "", fmt.Errorf("tile col in %q: %w", name, err)
	}
	return row, col, ext, nil
}

// ThumbnailDir returns the thumbnail directory of fileid.
func (l Layout) ThumbnailDir(fileid string) (string, error) {
	return l.fanout("thumbnails", fileid)
}

// ThumbnailPath returns the path of a width-bounded thumbnail.
func (l Layout) ThumbnailPath(fileid string, width int, ext string) (string, error) {
	if err := ValidateExt(ext); err != nil {
		return "", err
	}
	dir, err := l.ThumbnailDir(fileid)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strconv.Itoa(width)+"."+ext), nil
}

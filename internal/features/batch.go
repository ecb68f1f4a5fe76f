package features

import (
	"context"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/imaging-churn/internal/logger"
)

// FileError reports one input that produced no record.
type FileError struct {
	Path string
	Err  error
}

func (fe FileError) Error() string {
	return fe.Path + ": " + fe.Err.Error()
}

func (fe FileError) Unwrap() error {
	return fe.Err
}

// BatchResult is the outcome of ExtractFiles.
type BatchResult struct {
	Records []ImageRecord
	Skipped []FileError
}

// ExtractFiles decodes and extracts every path in order. Inputs that fail to
// decode or carry malformed metadata are logged and reported in Skipped; they
// do not stop the batch. Cancelling ctx stops before the next file.
func ExtractFiles(ctx context.Context, paths []string) (BatchResult, error) {
	log := GetLogger()
	result := BatchResult{Records: make([]ImageRecord, 0, len(paths))}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rec, err := ExtractFile(path)
		if err != nil {
			log.Warn("skipping unreadable scan",
				logger.String("path", path),
				logger.Error(err))
			result.Skipped = append(result.Skipped, FileError{Path: path, Err: err})
			continue
		}
		result.Records = append(result.Records, rec)
	}

	log.Info("feature extraction finished",
		logger.Int("files", len(paths)),
		logger.Int("records", len(result.Records)),
		logger.Int("skipped", len(result.Skipped)))

	return result, nil
}

// ExtractFile decodes one DICOM file and extracts its features.
func ExtractFile(path string) (ImageRecord, error) {
	img, meta, err := DecodeDICOMFile(path)
	if err != nil {
		return ImageRecord{}, err
	}
	return Extract(img, meta)
}

// FindDICOMFiles lists *.dcm and *.dicom files below dir in lexical order.
func FindDICOMFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".dcm", ".dicom":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// imageExts are the file extensions treated as loadable images when
// scanning a folder
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".tiff": true,
	".webp": true,
}

// videoExts are the file extensions treated as video files
var videoExts = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".flv":  true,
	".wmv":  true,
	".webm": true,
}

// ScanFolder returns the image files directly inside dir in name order.
// Subdirectories and files without a recognized image extension are
// skipped.
func ScanFolder(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)

	if err != nil {
		return nil, fmt.Errorf("reading folder %s: %w", dir, err)
	}

	var files []string

	for _, entry := range entries {

		if entry.IsDir() {
			continue
		}

		if !imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	return files, nil
}

// IsVideoPath reports whether the path has a recognized video file
// extension
func IsVideoPath(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

package file

import (
	"os"
	"path/filepath"
)

// DirSize sums the sizes of all regular files under dir. A missing dir
// counts as zero bytes.
func DirSize(dir string) (int64, error) {
	var total int64

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})

	return total, err
}

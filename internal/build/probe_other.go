//go:build !unix

package build

import "os"

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".wp4c-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

package cli

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

func writePidFile(path string) (func(), error) {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write file:%s", path)
	}
	return func() { os.Remove(path) }, nil
}

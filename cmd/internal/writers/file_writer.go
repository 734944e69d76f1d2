package writers

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type FileWriter struct {
	dest string
}

func NewFileWriterToTempDir() *FileWriter {
	return &FileWriter{
		dest: filepath.Join(os.TempDir(), uuid.New().String()),
	}
}

func NewFileWriter(dest string) *FileWriter {
	if dest == "" {
		return NewFileWriterToTempDir()
	}

	return &FileWriter{
		dest: dest,
	}
}

func (c FileWriter) Dest() string {
	return c.dest
}

func (c FileWriter) Write(files map[string]string) (string, error) {
	for k, v := range files {
		if err := c.write(k, v); err != nil {
			return "", err
		}
	}
	return c.dest, nil
}

func (c FileWriter) write(filename string, contents string) (funcErr error) {
	path := filepath.Join(c.dest, filename)

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	defer func() {
		funcErr = errors.Join(funcErr, f.Close())
	}()

	_, err = f.WriteString(contents)
	return err
}

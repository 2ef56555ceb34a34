package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// maxConfigFileSize limits the size of files read by ReadYamlWithEnvSub
const maxConfigFileSize = 1024 * 1024

// WriteBytesAtomic writes bs to file through a temporary file in the same directory,
// creating parent directories if required. Readers never observe a partial file.
func WriteBytesAtomic(ctx context.Context, file string, bs []byte, perm os.FileMode) error {
	dir, name, err := prepareFileDir(file)
	if err != nil {
		return fmt.Errorf("prepare dir: %w", err)
	}
	return writeBytes(ctx, file, dir, name, bs, perm)
}

// WriteYaml writes obj as YAML to file, creating parent directories if required
func WriteYaml(ctx context.Context, file string, obj interface{}) error {
	if ctx.Err() != nil {
		return fmt.Errorf("write yaml start: %w", ctx.Err())
	}

	bs, err := yaml.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return WriteBytesAtomic(ctx, file, bs, 0o640)
}

// ReadYamlWithEnvSub reads a YAML file into res after substituting environment
// variables referenced as {{ .NAME }}
func ReadYamlWithEnvSub(file string, res interface{}) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	bs, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if len(bs) > maxConfigFileSize {
		return fmt.Errorf("file %s too large: maximum size is %d bytes", file, maxConfigFileSize)
	}

	t, err := template.New("").Option("missingkey=zero").Parse(string(bs))
	if err != nil {
		return fmt.Errorf("parse template %s: %w", file, err)
	}

	var output bytes.Buffer
	if err := t.Execute(&output, getEnvMap()); err != nil {
		return fmt.Errorf("execute template %s: %w", file, err)
	}

	if err := yaml.Unmarshal(output.Bytes(), res); err != nil {
		return fmt.Errorf("parse yaml %s: %w", file, err)
	}
	return nil
}

// FileExists reports whether path exists and is not a directory
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func writeBytes(ctx context.Context, file, dir, name string, bs []byte, perm os.FileMode) error {
	if ctx.Err() != nil {
		return fmt.Errorf("write bytes start: %w", ctx.Err())
	}

	tempFile, err := os.CreateTemp(dir, ".*"+name)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tempFileName := tempFile.Name()

	defer func() {
		if _, err := os.Stat(tempFileName); err == nil {
			if err := os.Remove(tempFileName); err != nil {
				log.Debugf("failed removing temp file %s: %v", tempFileName, err)
			}
		}
	}()

	if err := tempFile.Chmod(perm); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	if _, err := tempFile.Write(bs); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tempFileName, err)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("after temp file: %w", ctx.Err())
	}

	if err := os.Rename(tempFileName, file); err != nil {
		return fmt.Errorf("move %s to %s: %w", tempFileName, file, err)
	}
	return nil
}

func getEnvMap() map[string]string {
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if ok && key != "" {
			envMap[key] = value
		}
	}
	return envMap
}

// prepareFileDir creates the parent directory of file with 0750 permissions
func prepareFileDir(file string) (string, string, error) {
	dir, name := filepath.Split(file)
	if name == "" {
		return "", "", errors.New("no file name given")
	}
	if dir == "" {
		return ".", name, nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", err
	}
	return dir, name, nil
}

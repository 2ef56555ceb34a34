package versionfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-update-ota/ota-agent/util"
)

// DefaultName of the file holding the installed image version
const DefaultName = "update.version"

// Read returns the installed version stored in file as decimal or 0x prefixed hex.
// A missing or unparsable file reads as version 0.
func Read(file string) uint32 {
	raw, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("version file %s not found, assuming version 0", file)
		} else {
			log.Warnf("failed reading version file %s, assuming version 0: %v", file, err)
		}
		return 0
	}

	v, err := Parse(string(raw))
	if err != nil {
		log.Warnf("invalid version file %s, assuming version 0: %v", file, err)
		return 0
	}
	return v
}

// Parse parses a decimal or 0x prefixed hex version
func Parse(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty version")
	}

	base := 10
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		base = 16
		s = s[2:]
	}

	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", s, err)
	}
	return uint32(v), nil
}

// Write stores version as decimal
func Write(ctx context.Context, file string, version uint32) error {
	return util.WriteBytesAtomic(ctx, file, []byte(strconv.FormatUint(uint64(version), 10)+"\n"), 0o644)
}

// Bootstrap creates the parent directory of file and writes version 0 when no
// version file exists yet
func Bootstrap(ctx context.Context, file string) error {
	if util.FileExists(file) {
		return nil
	}

	if err := Write(ctx, file, 0); err != nil {
		return fmt.Errorf("initialize version file %s: %w", file, err)
	}
	log.Infof("created version file %s", file)
	return nil
}

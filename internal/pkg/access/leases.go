package access

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
)

// LeaseTable resolves a client name to its live network address.
type LeaseTable interface {
	Lookup(client string) (ip string, found bool, err error)
}

// FileLeaseTable reads "name ip" lines from the server's address list. The file
// is re-read on every lookup since the VPN server rewrites it.
type FileLeaseTable struct {
	Path string
}

func NewFileLeaseTable(path string) *FileLeaseTable {
	return &FileLeaseTable{Path: path}
}

// Lookup returns found=false when the file or the entry does not exist.
func (t *FileLeaseTable) Lookup(client string) (string, bool, error) {
	f, err := os.Open(t.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != client {
			continue
		}
		ip := net.ParseIP(fields[1])
		if ip == nil {
			return "", false, fmt.Errorf("lease table %s: invalid address %q for %s", t.Path, fields[1], client)
		}
		return ip.String(), true, nil
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}

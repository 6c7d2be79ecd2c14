package dhcp

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2/maybe"
)

// ErrPersistenceIO is the sentinel wrapped by persistence failures, per the
// original spec's §7 "Store errors".
const ErrPersistenceIO errors.Error = "dhcp: persistence io error"

// leaseFilePerm is the permission mode for the lease database file.
const leaseFilePerm fs.FileMode = 0o640

// leaseFileHeader and leaseFileGeneratedPrefix are the informational
// comment lines the original spec's §6 "Persistence file" names.
const leaseFileHeader = "# Simple DHCP Daemon Lease Database"

const leaseFileGeneratedPrefix = "# Generated: "

// SaveLeases serializes leases and reservations into the line-oriented
// lease-database format and writes it atomically to path, per the original
// spec's §4.3 "Persistence": full-file rewrite via an atomic rename.
func SaveLeases(path string, leases []Lease, reservations []StaticReservation, now time.Time) (err error) {
	defer func() { err = errors.Annotate(err, "saving leases: %w") }()

	var buf bytes.Buffer

	fmt.Fprintln(&buf, leaseFileHeader)
	fmt.Fprintf(&buf, "%s%d\n", leaseFileGeneratedPrefix, now.Unix())

	for _, l := range leases {
		writeLeaseRecord(&buf, l)
	}

	for _, r := range reservations {
		writeStaticRecord(&buf, r)
	}

	err = maybe.WriteFile(path, buf.Bytes(), leaseFilePerm)
	if err != nil {
		return fmt.Errorf("%s: %w", err, ErrPersistenceIO)
	}

	return nil
}

func writeLeaseRecord(buf *bytes.Buffer, l Lease) {
	fmt.Fprintf(
		buf,
		"LEASE:%s|%s|%s|%d|%s|%d|%d|%s\n",
		l.MAC,
		l.IP,
		l.Hostname,
		int64(l.LeaseDuration().Seconds()),
		l.Type,
		l.AllocatedAt.Unix(),
		l.ExpiresAt.Unix(),
		clientIDField(l.ClientID),
	)
}

func writeStaticRecord(buf *bytes.Buffer, r StaticReservation) {
	enabled := "0"
	if r.Enabled {
		enabled = "1"
	}

	fmt.Fprintf(
		buf,
		"STATIC:%s|%s|%s|%s|%d|%s|%s\n",
		r.MAC,
		r.IP,
		r.Hostname,
		r.Description,
		int64(r.LeaseTime.Seconds()),
		enabled,
		r.VendorClass,
	)
}

func clientIDField(id []byte) (s string) {
	if len(id) == 0 {
		return ""
	}

	return fmt.Sprintf("%x", id)
}

// LoadedLeases is the result of parsing a lease-database file.
type LoadedLeases struct {
	Leases       []Lease
	Reservations []StaticReservation
}

// LoadLeases parses the line-oriented lease-database format. Malformed
// lines are discarded with a logged warning rather than failing the whole
// load, per the original spec's §4.3 "load discards malformed lines with a
// warning".
func LoadLeases(data []byte, logger *slog.Logger) (loaded LoadedLeases, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "LEASE:"):
			l, parseErr := parseLeaseRecord(strings.TrimPrefix(line, "LEASE:"))
			if parseErr != nil {
				logger.Warn("discarding malformed lease record", "line", lineNo, slogutil.KeyError, parseErr)

				continue
			}

			loaded.Leases = append(loaded.Leases, l)
		case strings.HasPrefix(line, "STATIC:"):
			r, parseErr := parseStaticRecord(strings.TrimPrefix(line, "STATIC:"))
			if parseErr != nil {
				logger.Warn("discarding malformed static record", "line", lineNo, slogutil.KeyError, parseErr)

				continue
			}

			loaded.Reservations = append(loaded.Reservations, r)
		default:
			logger.Warn("discarding unrecognized line", "line", lineNo)
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return LoadedLeases{}, fmt.Errorf("scanning: %w: %w", scanErr, ErrPersistenceIO)
	}

	return loaded, nil
}

func parseLeaseRecord(s string) (l Lease, err error) {
	fields := strings.Split(s, "|")
	if len(fields) != 8 {
		return Lease{}, fmt.Errorf("want 8 fields, got %d", len(fields))
	}

	mac, err := ParseMAC(fields[0])
	if err != nil {
		return Lease{}, err
	}

	ip, ok := ParseIP(fields[1])
	if !ok {
		return Lease{}, fmt.Errorf("invalid ip %q", fields[1])
	}

	leaseSeconds, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Lease{}, fmt.Errorf("invalid lease_seconds: %w", err)
	}

	var typ LeaseType
	if fields[4] == LeaseStatic.String() {
		typ = LeaseStatic
	}

	allocatedUnix, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return Lease{}, fmt.Errorf("invalid allocated_unix: %w", err)
	}

	expiresUnix, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return Lease{}, fmt.Errorf("invalid expires_unix: %w", err)
	}

	allocatedAt := time.Unix(allocatedUnix, 0).UTC()
	expiresAt := time.Unix(expiresUnix, 0).UTC()
	duration := time.Duration(leaseSeconds) * time.Second
	_, _, renewalAt, rebindingAt := newLeaseTimes(allocatedAt, duration)

	var clientID []byte
	if fields[7] != "" {
		clientID, err = hex.DecodeString(fields[7])
		if err != nil {
			return Lease{}, fmt.Errorf("invalid client_id: %w", err)
		}
	}

	return Lease{
		MAC:         mac,
		IP:          ip,
		Hostname:    fields[2],
		Type:        typ,
		Active:      true,
		ClientID:    clientID,
		AllocatedAt: allocatedAt,
		ExpiresAt:   expiresAt,
		RenewalAt:   renewalAt,
		RebindingAt: rebindingAt,
	}, nil
}

func parseStaticRecord(s string) (r StaticReservation, err error) {
	fields := strings.Split(s, "|")
	if len(fields) != 7 {
		return StaticReservation{}, fmt.Errorf("want 7 fields, got %d", len(fields))
	}

	mac, err := ParseMAC(fields[0])
	if err != nil {
		return StaticReservation{}, err
	}

	ip, ok := ParseIP(fields[1])
	if !ok {
		return StaticReservation{}, fmt.Errorf("invalid ip %q", fields[1])
	}

	leaseSeconds, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return StaticReservation{}, fmt.Errorf("invalid lease_seconds: %w", err)
	}

	return StaticReservation{
		MAC:         mac,
		IP:          ip,
		Hostname:    fields[2],
		Description: fields[3],
		LeaseTime:   time.Duration(leaseSeconds) * time.Second,
		Enabled:     fields[5] == "1",
		VendorClass: fields[6],
	}, nil
}

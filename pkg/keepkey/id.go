package keepkey

import "fmt"

// fmtID formats the (vid, pid, bus, address) fallback identity used
// when a device reports no serial number.
func fmtID(vid, pid uint16, bus, addr int) string {
	return fmt.Sprintf("vidpid:%04x:%04x:%d:%d", vid, pid, bus, addr)
}

package expect

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeoutLine is printed by both probes for an attempt without a reply.
const TimeoutLine = "Timeout"

var (
	macPattern       = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)
	arpReplyPattern  = regexp.MustCompile(`^(\d+) bytes from (\S+) \((\S+)\) index=(\d+) time=(\d+) ms$`)
	echoReplyPattern = regexp.MustCompile(`^(\d+) bytes from (\S+): icmp_seq=(\d+) ttl=(\d+) time=(\d+) ms$`)
)

// Line is one attempt reported by a probe: either a reply or a timeout.
type Line struct {
	Timeout bool
	Bytes   int
	HwAddr  string // address-resolution replies only
	Addr    netip.Addr
	Seq     int // index= or icmp_seq=
	TTL     int // echo replies only
	Time    time.Duration
}

// ValidMAC reports whether s is a colon-separated 48-bit hardware address.
func ValidMAC(s string) bool {
	return macPattern.MatchString(s)
}

// ParseARPReplies parses address-resolution probe output, one Line per
// attempt. Any line that is neither a reply nor a timeout is an error.
func ParseARPReplies(stdout string) ([]Line, error) {
	return parseLines(stdout, parseARPLine)
}

// ParseEchoReplies parses echo-request probe output, one Line per attempt.
func ParseEchoReplies(stdout string) ([]Line, error) {
	return parseLines(stdout, parseEchoLine)
}

func parseLines(stdout string, parse func(string) (Line, bool)) ([]Line, error) {
	if stdout == "" {
		return nil, nil
	}
	if !strings.HasSuffix(stdout, "\n") {
		return nil, &MismatchError{Kind: KindFormat, Actual: stdout, Expected: "newline-terminated lines", Reason: "missing trailing newline"}
	}
	raw := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	lines := make([]Line, 0, len(raw))
	for i, s := range raw {
		if s == TimeoutLine {
			lines = append(lines, Line{Timeout: true})
			continue
		}
		l, ok := parse(s)
		if !ok {
			return nil, &MismatchError{Kind: KindFormat, Actual: stdout, Expected: "reply or Timeout line", Reason: fmt.Sprintf("line %d: %q", i+1, s)}
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func parseARPLine(s string) (Line, bool) {
	m := arpReplyPattern.FindStringSubmatch(s)
	if m == nil || !ValidMAC(m[2]) {
		return Line{}, false
	}
	addr, err := netip.ParseAddr(m[3])
	if err != nil || !addr.Is4() {
		return Line{}, false
	}
	return Line{
		Bytes:  atoi(m[1]),
		HwAddr: m[2],
		Addr:   addr,
		Seq:    atoi(m[4]),
		Time:   time.Duration(atoi(m[5])) * time.Millisecond,
	}, true
}

func parseEchoLine(s string) (Line, bool) {
	m := echoReplyPattern.FindStringSubmatch(s)
	if m == nil {
		return Line{}, false
	}
	addr, err := netip.ParseAddr(m[2])
	if err != nil || !addr.Is4() {
		return Line{}, false
	}
	return Line{
		Bytes: atoi(m[1]),
		Addr:  addr,
		Seq:   atoi(m[3]),
		TTL:   atoi(m[4]),
		Time:  time.Duration(atoi(m[5])) * time.Millisecond,
	}, true
}

// atoi is only called on \d+ captures.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// CheckSequence fails unless lines holds exactly n attempts and every
// reply's sequence number equals its 1-based attempt position.
func CheckSequence(lines []Line, n int) error {
	if len(lines) != n {
		return &MismatchError{
			Kind:     KindFormat,
			Actual:   strconv.Itoa(len(lines)),
			Expected: strconv.Itoa(n),
			Reason:   "attempt count",
		}
	}
	for i, l := range lines {
		if l.Timeout {
			continue
		}
		if l.Seq != i+1 {
			return &MismatchError{
				Kind:     KindFormat,
				Actual:   strconv.Itoa(l.Seq),
				Expected: strconv.Itoa(i + 1),
				Reason:   fmt.Sprintf("sequence number of attempt %d", i+1),
			}
		}
	}
	return nil
}

// Timeouts returns the output of n attempts that all timed out.
func Timeouts(n int) string {
	return strings.Repeat(TimeoutLine+"\n", n)
}

// ARPReplies returns a pattern matching n consecutive address-resolution
// replies from addr with index=1..n.
func ARPReplies(addr string, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `28 bytes from \S{17} \(%s\) index=%d time=\d+ ms\n`, regexp.QuoteMeta(addr), i)
	}
	return b.String()
}

// EchoReplies returns a pattern matching n consecutive echo replies from
// addr with icmp_seq=1..n and the given reply size.
func EchoReplies(addr string, size, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `%d bytes from %s: icmp_seq=%d ttl=\d+ time=\d+ ms\n`, size, regexp.QuoteMeta(addr), i)
	}
	return b.String()
}

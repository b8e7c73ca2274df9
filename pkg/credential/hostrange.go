package credential

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandHostList expands a compact host-range expression such as
// "node[01-04,06]" into the ordered list of individual hostnames it
// denotes: node01, node02, node03, node04, node06. A plain hostname with
// no brackets expands to itself. Padding is preserved per the width of
// the range's leading digit string.
func ExpandHostList(expr string) ([]string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	open := strings.IndexByte(expr, '[')
	if open < 0 {
		return []string{expr}, nil
	}
	if !strings.HasSuffix(expr, "]") {
		return nil, fmt.Errorf("credential: malformed host range %q: missing closing bracket", expr)
	}

	prefix := expr[:open]
	body := expr[open+1 : len(expr)-1]

	var hosts []string
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			loStr, hiStr := part[:dash], part[dash+1:]
			lo, err := strconv.Atoi(loStr)
			if err != nil {
				return nil, fmt.Errorf("credential: invalid range start %q: %w", loStr, err)
			}
			hi, err := strconv.Atoi(hiStr)
			if err != nil {
				return nil, fmt.Errorf("credential: invalid range end %q: %w", hiStr, err)
			}
			if hi < lo {
				return nil, fmt.Errorf("credential: invalid range %q: end before start", part)
			}
			width := len(loStr)
			for n := lo; n <= hi; n++ {
				hosts = append(hosts, prefix+padInt(n, width))
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				// Not numeric: treat the whole bracket entry as a literal suffix.
				hosts = append(hosts, prefix+part)
				continue
			}
			hosts = append(hosts, prefix+padInt(n, len(part)))
		}
	}
	return hosts, nil
}

func padInt(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// HostRank returns the zero-based position of hostname within the
// expansion of expr, or -1 if hostname is not a member.
func HostRank(expr, hostname string) (int, error) {
	hosts, err := ExpandHostList(expr)
	if err != nil {
		return -1, err
	}
	for i, h := range hosts {
		if h == hostname {
			return i, nil
		}
	}
	return -1, nil
}

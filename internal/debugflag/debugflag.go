// Package debugflag configures runtime compatibility knobs via the
// MCPKIT_DEBUG environment variable.
//
// The value is a comma-separated list of key=value pairs, e.g.
//
//	MCPKIT_DEBUG=strictjson=1
//
// strictjson=1 makes jsonrpc.DecodeRequest reject any top-level request
// field it doesn't recognize, instead of silently ignoring it. The
// legacy SSE transport isn't a debug overlay; it's selected directly via
// -mode=sse-legacy.
package debugflag

import (
	"fmt"
	"os"
	"strings"
)

const envKey = "MCPKIT_DEBUG"

var params map[string]string

func init() {
	var err error
	params, err = parse(os.Getenv(envKey))
	if err != nil {
		panic(err)
	}
}

// Value returns the value configured for key, or "" if unset.
func Value(key string) string {
	return params[key]
}

func parse(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for part := range strings.SplitSeq(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%s: invalid format: %q", envKey, part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

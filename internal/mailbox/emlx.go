package mailbox

import (
	"bytes"
	"strconv"
	"strings"
)

// unwrapEmlx extracts the message payload from an Apple Mail wrapper file:
// a decimal byte count on the first line, exactly that many bytes of RFC822
// content, then metadata we discard. A zero, unparsable or overlong count
// yields nil, which the caller treats as a skip.
func unwrapEmlx(data []byte) []byte {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return nil
	}
	count, err := strconv.ParseInt(strings.TrimSpace(string(data[:nl])), 10, 64)
	if err != nil || count <= 0 {
		return nil
	}
	start := int64(nl + 1)
	if start+count > int64(len(data)) {
		return nil
	}
	return data[start : start+count]
}

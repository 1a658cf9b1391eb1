package hashutil

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// HashString returns the 64-bit xxHash of input as 16 lower-case hex digits.
func HashString(input string) string {
	return format(xxhash.Sum64String(input))
}

// DeriveKey hashes text together with the JSON encoding of ctx. encoding/json
// writes struct fields in declaration order and map keys sorted, so equal
// inputs always produce equal keys.
func DeriveKey(text string, ctx any) (string, error) {
	data, err := json.Marshal(ctx)
	if err != nil {
		return "", err
	}
	d := xxhash.New()
	_, _ = d.WriteString(text)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(data)
	return format(d.Sum64()), nil
}

func format(sum uint64) string {
	s := strconv.FormatUint(sum, 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}

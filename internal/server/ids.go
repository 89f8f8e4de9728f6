package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// fileID is a file id in a JSON request body. Browser forms send
// checkbox values as strings, so "7" is accepted as well as 7.
type fileID int64

func (id *fileID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid file id %q", b)
	}
	*id = fileID(n)
	return nil
}

func toInt64s(ids []fileID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

package operation

import (
	"encoding/json"
	"strconv"

	"github.com/hyperrange/rangemaster/pkg/types"
)

// encodeOperation marshals an operation for metalog storage.
func encodeOperation(op *types.Operation) ([]byte, error) {
	return json.Marshal(op)
}

// decodeOperation unmarshals a metalog payload back into an Operation, used
// during startup replay.
func decodeOperation(data []byte) (*types.Operation, error) {
	var op types.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

package connection

import (
	"encoding/json"

	"github.com/hyperrange/rangemaster/pkg/types"
)

func encodeConnection(conn *types.Connection) ([]byte, error) {
	return json.Marshal(conn)
}

func decodeConnection(data []byte) (*types.Connection, error) {
	var conn types.Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

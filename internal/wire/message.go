package wire

import "encoding/json"

// Action names a push channel message.
type Action string

const (
	// ActionSubscribeBlocks is sent by clients to follow changes under the
	// given root ids.
	ActionSubscribeBlocks Action = "SUBSCRIBE_BLOCKS"
	// ActionUnsubscribeBlocks stops following the given root ids.
	ActionUnsubscribeBlocks Action = "UNSUBSCRIBE_BLOCKS"
	// ActionUpdateBlock is sent by the server for every changed block.
	ActionUpdateBlock Action = "UPDATE_BLOCK"
)

// Command is a client-to-server push channel message.
type Command struct {
	Action      Action   `json:"action"`
	WorkspaceID string   `json:"workspaceId,omitempty"`
	BlockIDs    []string `json:"blockIds"`
}

// Update is a server-to-client push channel message. Block holds the wire
// form and is decoded with Codec.Decode.
type Update struct {
	Action Action          `json:"action"`
	Block  json.RawMessage `json:"block"`
}

package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Notification is a single namespaced message on the channel.
type Notification struct {
	Sender string          `json:"sender"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`

	// Injected by the hub (not set by senders)
	ID int64     `json:"id,omitempty"`
	At time.Time `json:"at,omitempty"`
}

// Validate checks the fields every sender must fill in.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Sender) == "" {
		return fmt.Errorf("notification sender is required")
	}
	if strings.TrimSpace(n.Method) == "" {
		return fmt.Errorf("notification method is required")
	}
	return nil
}

package bridge

import (
	"fmt"
	"slices"

	"github.com/sammcj/toolloop/types"
)

// Conversation is the append-only message sequence of one chat. Tool
// messages must answer an invocation of the assistant turn they follow.
type Conversation struct {
	messages []types.Message
	open     map[string]bool
}

// NewConversation starts a conversation from seed messages
func NewConversation(seed []types.Message) (*Conversation, error) {
	c := &Conversation{}
	for _, msg := range seed {
		if err := c.Append(msg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Append adds msg to the end of the conversation
func (c *Conversation) Append(msg types.Message) error {
	switch msg.Role {
	case types.RoleTool:
		if !c.open[msg.ToolCallID] {
			return fmt.Errorf("tool message %q does not answer a call of the preceding assistant turn", msg.ToolCallID)
		}
		delete(c.open, msg.ToolCallID)

	case types.RoleAssistant:
		c.open = make(map[string]bool, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			c.open[call.ID] = true
		}

	case types.RoleSystem, types.RoleDeveloper, types.RoleUser:
		c.open = nil

	default:
		return fmt.Errorf("unknown message role %q", msg.Role)
	}

	msg.ToolCalls = slices.Clone(msg.ToolCalls)
	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns a deep copy of the sequence so far
func (c *Conversation) Messages() []types.Message {
	out := make([]types.Message, len(c.messages))
	for i, msg := range c.messages {
		msg.ToolCalls = slices.Clone(msg.ToolCalls)
		out[i] = msg
	}
	return out
}

// Len is the number of messages appended
func (c *Conversation) Len() int {
	return len(c.messages)
}

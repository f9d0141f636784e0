package engine

import "sync"

// Context is the scratch space of one pipeline invocation. Steps store their
// messages under their own key and read prior steps' messages by key. Writes
// from a parallel group land under distinct keys, so the final contents do
// not depend on completion order.
type Context struct {
	mu       sync.RWMutex
	messages map[StepKey]Message
}

func NewContext() *Context {
	return &Context{messages: make(map[StepKey]Message)}
}

func (c *Context) Put(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[msg.Step] = msg
}

func (c *Context) Get(key StepKey) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msg, ok := c.messages[key]
	return msg, ok
}

package remote

// ResponseCache keeps the last successful envelope per digest for the lifetime
// of a client. It only forgets on Clear.
type ResponseCache struct {
	entries SyncMap[string, Envelope]
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{
		entries: NewSyncMap[string, Envelope](),
	}
}

// Get returns a deep copy of the stored envelope marked as cached.
func (c *ResponseCache) Get(digest string) (Envelope, bool) {
	envelope, ok := c.entries.get(digest)
	if !ok {
		return Envelope{}, false
	}
	envelope = envelope.clone()
	envelope.Cached = true
	return envelope, true
}

// Put stores a deep copy and ignores envelopes that carry an exception.
func (c *ResponseCache) Put(digest string, envelope Envelope) bool {
	if envelope.Exception != "" {
		return false
	}
	envelope = envelope.clone()
	envelope.Cached = false
	c.entries.put(digest, envelope)
	return true
}

func (c *ResponseCache) Clear() {
	c.entries.clear()
}

func (c *ResponseCache) Len() int {
	return c.entries.len()
}

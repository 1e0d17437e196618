package frame

import "sort"

// Dialect knows which messages exist and the CRC_EXTRA seed of each.
type Dialect interface {
	Name() string
	CRCExtra(messageID uint32) (byte, bool)
}

// MessageSpec describes one message of a dialect.
type MessageSpec struct {
	ID       uint32
	Name     string
	CRCExtra byte
}

// MessageSet is a Dialect backed by a fixed table of messages.
type MessageSet struct {
	name     string
	messages map[uint32]MessageSpec
}

// NewDialect ...
func NewDialect(name string, messages ...MessageSpec) *MessageSet {
	d := &MessageSet{
		name:     name,
		messages: make(map[uint32]MessageSpec, len(messages)),
	}
	for _, m := range messages {
		d.messages[m.ID] = m
	}
	return d
}

// Name ...
func (d *MessageSet) Name() string { return d.name }

// CRCExtra ...
func (d *MessageSet) CRCExtra(messageID uint32) (byte, bool) {
	m, ok := d.messages[messageID]
	return m.CRCExtra, ok
}

// Lookup ...
func (d *MessageSet) Lookup(messageID uint32) (MessageSpec, bool) {
	m, ok := d.messages[messageID]
	return m, ok
}

// Messages returns the dialect's messages ordered by id.
func (d *MessageSet) Messages() []MessageSpec {
	res := make([]MessageSpec, 0, len(d.messages))
	for _, m := range d.messages {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Extend returns a new dialect holding d's messages plus the given ones.
// Later definitions win.
func (d *MessageSet) Extend(name string, messages ...MessageSpec) *MessageSet {
	all := append(d.Messages(), messages...)
	return NewDialect(name, all...)
}

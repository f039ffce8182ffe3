package action

// Field is a device specific key in a raw control status map, e.g. "0001" for power
type Field string

// Command is a single desired field=value change, created by a characteristic set handler
type Command struct {
	Field Field  `json:"funcId"`
	Value string `json:"cmdVal"`
}

// Status is the raw control status of one device, keyed by field
type Status map[Field]string

// Get returns the value for f and whether the device reported it
func (s Status) Get(f Field) (string, bool) {
	v, ok := s[f]
	return v, ok
}

// Clone returns a copy which can be overlaid without touching the original
func (s Status) Clone() Status {
	c := make(Status, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Expirable is a command waiting for the device to report the desired value
type Expirable struct {
	Command
	Skips int `json:"skips"`
}

// Commands is a convenience for building a command list from field/value pairs
func Commands(pairs ...string) []Command {
	cmds := make([]Command, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cmds = append(cmds, Command{Field: Field(pairs[i]), Value: pairs[i+1]})
	}
	return cmds
}

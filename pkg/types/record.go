package types

import "fmt"

// RecordKind is the discriminant of a log record.
type RecordKind uint8

const (
	RecordSet    RecordKind = 1
	RecordRemove RecordKind = 2
)

func (k RecordKind) String() string {
	switch k {
	case RecordSet:
		return "set"
	case RecordRemove:
		return "remove"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record represents a single key mutation stored in the command log.
type Record struct {
	Kind  RecordKind
	Key   string
	Value string // empty for RecordRemove
}

func SetRecord(key, value string) Record {
	return Record{Kind: RecordSet, Key: key, Value: value}
}

func RemoveRecord(key string) Record {
	return Record{Kind: RecordRemove, Key: key}
}

func (r Record) IsRemove() bool {
	return r.Kind == RecordRemove
}

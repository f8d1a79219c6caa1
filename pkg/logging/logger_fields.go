package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Strings(key string, values []string) Field {
	return Field{Key: key, Value: values}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain field helpers

func Component(name string) Field {
	return String("component", name)
}

func ClusterID(id string) Field {
	return String("cluster", id)
}

func MemberID(id string) Field {
	return String("member", id)
}

func InstanceID(id string) Field {
	return String("instance", id)
}

func Strategy(id string) Field {
	return String("strategy", id)
}

func Table(name string) Field {
	return String("table", name)
}

func Sequence(name string) Field {
	return String("sequence", name)
}

func Resource(name string) Field {
	if name == "" {
		return String("resource", "<global>")
	}
	return String("resource", name)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

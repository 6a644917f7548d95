package utils

import (
	"sync"
)

var interned sync.Map

// Intern returns a shared string equal to buf, allocating only the first
// time a value is seen. Callers must keep the set of values bounded.
func Intern(buf []byte) string {
	if v, ok := interned.Load(string(buf)); ok {
		return v.(string)
	}

	s := string(buf)
	v, _ := interned.LoadOrStore(s, s)
	return v.(string)
}

// Package assert holds constructor invariants. A failed assertion is a
// programming error, never a runtime condition, so it panics.
package assert

import "fmt"

// NotNil panics when value is nil. what names the dependency in the panic
// message.
func NotNil(value any, what string) {
	if value == nil {
		panic(fmt.Sprintf("assert: expected %s to be not nil", what))
	}
}

// NotEmptyStr panics when str is empty.
func NotEmptyStr(str string, what string) {
	if str == "" {
		panic(fmt.Sprintf("assert: expected %s to be non-empty", what))
	}
}

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// FamilyAddress returns the unindexed address for a declaration (type.name).
func FamilyAddress(typ, name string) string {
	return fmt.Sprintf("%s.%s", typ, name)
}

// InstanceAddress returns the address of one materialized instance.
// Counted instances are suffixed with their index: type.name[2].
func InstanceAddress(typ, name string, index int) string {
	if index < 0 {
		return FamilyAddress(typ, name)
	}
	return fmt.Sprintf("%s.%s[%d]", typ, name, index)
}

// SplitIndex splits an instance address into its family address and index.
// Unindexed addresses return index -1.
func SplitIndex(addr string) (string, int) {
	if !strings.HasSuffix(addr, "]") {
		return addr, -1
	}
	open := strings.LastIndex(addr, "[")
	if open < 0 {
		return addr, -1
	}
	idx, err := strconv.Atoi(addr[open+1 : len(addr)-1])
	if err != nil {
		return addr, -1
	}
	return addr[:open], idx
}

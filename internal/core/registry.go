package core

import (
	"fmt"
	"sync"
)

var (
	formatRegistry = make(map[SheetFormat]FormatDefinition)
	formatOrder    []SheetFormat
	formatMu       sync.RWMutex
)

// RegisterFormat adds a workbook format definition to the registry.
// Panics if a format with the same key is already registered.
// Registration order doubles as detection priority.
func RegisterFormat(def FormatDefinition) {
	formatMu.Lock()
	defer formatMu.Unlock()

	if _, exists := formatRegistry[def.Key]; exists {
		panic(fmt.Sprintf("format already registered: %s", def.Key))
	}

	formatRegistry[def.Key] = def
	formatOrder = append(formatOrder, def.Key)
}

// FormatByKey returns a format definition by key.
// Returns false if not found.
func FormatByKey(key SheetFormat) (FormatDefinition, bool) {
	formatMu.RLock()
	defer formatMu.RUnlock()

	def, ok := formatRegistry[key]
	return def, ok
}

// Formats returns all registered format definitions in registration order.
func Formats() []FormatDefinition {
	formatMu.RLock()
	defer formatMu.RUnlock()

	result := make([]FormatDefinition, 0, len(formatOrder))
	for _, key := range formatOrder {
		result = append(result, formatRegistry[key])
	}

	return result
}

// FormatCount returns the number of registered formats.
func FormatCount() int {
	formatMu.RLock()
	defer formatMu.RUnlock()
	return len(formatRegistry)
}

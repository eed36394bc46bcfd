package config

import (
	"fmt"
	"strings"
)

// DefaultIndexes are the composite indexes the messaging engine's ordered
// queries need.
var DefaultIndexes = []string{
	"messages:conversationId,timestamp",
	"notifications:recipientId,createdAt",
}

// ParseIndex splits "collection:field1,field2" into its parts.
func ParseIndex(spec string) (string, []string, error) {
	collection, rest, ok := strings.Cut(strings.TrimSpace(spec), ":")
	if !ok || collection == "" || rest == "" {
		return "", nil, fmt.Errorf("index %q must look like collection:field1,field2", spec)
	}
	var fields []string
	for _, field := range strings.Split(rest, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			return "", nil, fmt.Errorf("index %q has an empty field", spec)
		}
		fields = append(fields, field)
	}
	return collection, fields, nil
}

package utils

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// forgingNamespace scopes deterministic ids so they never collide with ids
// derived by other services from the same inputs.
var forgingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://tradinta.com/forging"))

// GenerateUUID creates a random UUID v4
func GenerateUUID() string {
	return uuid.NewString()
}

// DeterministicID returns a UUID v5 derived from parts. The same parts always
// give the same id. Each part is length-prefixed so no split of the same
// bytes into different parts can collide.
func DeterministicID(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return uuid.NewSHA1(forgingNamespace, []byte(b.String())).String()
}

// OrderIDFor is the id of the single order a buyer may create from a
// finished forging event.
func OrderIDFor(buyerID, eventID string) string {
	return DeterministicID("order", eventID, buyerID)
}

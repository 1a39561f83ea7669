package traffic

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/profile"
)

// AdminWords is the vocabulary of admin heartbeats.
var AdminWords = []string{"sync", "idle", "config", "heartbeat_ok"}

// Sample draws the next value of p from r. Numeric values are formatted with
// two decimals, enumerated values are returned as declared.
func Sample(p profile.Profile, r *rand.Rand) string {
	if p.Enumerated() {
		return p.Values[r.IntN(len(p.Values))]
	}
	v := p.Min + r.Float64()*(p.Max-p.Min)
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatReading builds the primary payload "<key>:<value><unit>:Class=<n>".
func FormatReading(p profile.Profile, value string) string {
	return fmt.Sprintf("%s:%s%s:Class=%d", p.Key, value, p.Unit, p.Class)
}

// FormatAdmin builds the heartbeat payload "<key>:<word>:Class=4".
func FormatAdmin(key, word string) string {
	return fmt.Sprintf("%s:%s:Class=%d", key, word, profile.Background)
}

// Message is a decoded payload.
type Message struct {
	Key   string
	Body  string
	Class profile.Class
}

// ParseMessage splits a payload produced by FormatReading or FormatAdmin.
func ParseMessage(payload []byte) (Message, error) {
	s := string(payload)
	first := strings.IndexByte(s, ':')
	last := strings.LastIndexByte(s, ':')
	if first < 0 || first == last {
		return Message{}, fmt.Errorf("malformed payload %q", s)
	}
	classField := s[last+1:]
	n, ok := strings.CutPrefix(classField, "Class=")
	if !ok {
		return Message{}, fmt.Errorf("malformed class field %q", classField)
	}
	class, err := strconv.Atoi(n)
	if err != nil || class < int(profile.EmergencyImportant) || class > int(profile.Background) {
		return Message{}, fmt.Errorf("invalid class %q", n)
	}
	return Message{Key: s[:first], Body: s[first+1 : last], Class: profile.Class(class)}, nil
}

package engram

import "encoding/json"

// ParsePrerequisites decodes a serialized prerequisite object. A malformed
// prerequisite (non-object, unparsable string) is treated as no
// prerequisites — matches everything. Unknown keys are ignored by virtue of
// json.Unmarshal's default behavior.
func ParsePrerequisites(raw string) Prerequisites {
	if raw == "" {
		return Prerequisites{}
	}
	var p Prerequisites
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Prerequisites{}
	}
	return p
}

// Serialize renders the prerequisite struct to its JSON storage form.
func (p Prerequisites) Serialize() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

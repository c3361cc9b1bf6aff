package store

import "encoding/json"

func toJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromJSON[T any](s string, out *T) error {
	if s == "" {
		var zero T
		*out = zero
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

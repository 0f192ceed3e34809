package layout

// Record maps field keys to decoded values: string for UTF8 fields, int for
// numeric widths and []byte otherwise.
type Record map[string]any

// String returns the text value of key, or "" if absent or not text.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bytes returns the raw value of key. Text values are converted.
func (r Record) Bytes(key string) []byte {
	switch v := r[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// Int returns the numeric value of key, or 0.
func (r Record) Int(key string) int {
	n, _ := r[key].(int)
	return n
}

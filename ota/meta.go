package ota

// MetaDataSize is the size of the vendor update record.
const MetaDataSize = 64

// MetaData is an opaque vendor record carried with the OTA state. The
// updater never interprets it.
type MetaData [MetaDataSize]byte

// GetMetaData returns a copy of the stored record.
func (u *Updater) GetMetaData() MetaData {
	return u.meta
}

// SetMetaData stores a copy of md.
func (u *Updater) SetMetaData(md MetaData) {
	u.meta = md
}

// CheckVersionValid reports whether the first n bytes of current and
// candidate match, with C string semantics: comparison stops early, and
// succeeds, at a NUL present in both.
func CheckVersionValid(current, candidate string, n int) bool {
	for i := 0; i < n; i++ {
		a, b := byteAt(current, i), byteAt(candidate, i)
		if a != b {
			return false
		}
		if a == 0 {
			return true
		}
	}
	return true
}

func byteAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}
